package mq

import "context"

// Message 一条业务消息
type Message struct {
	ID       string            // Redis Stream ID 或 Kafka partition/offset
	Topic    string            // 主题 (例如 event.TopicStatus)
	Key      string            // 分区键，出金事件使用交易 ID
	Payload  []byte            // 消息体 (JSON)
	Metadata map[string]string
}

// Producer 生产者接口
type Producer interface {
	// Publish key 用于分区排序，传空字符串则随机分区
	Publish(ctx context.Context, topic string, key string, payload []byte) error
	Close() error
}

// Consumer 消费者接口
type Consumer interface {
	// Subscribe 订阅主题；handler 返回 error 时消息不确认
	Subscribe(ctx context.Context, topic string, handler func(msg *Message) error) error
	Close() error
}
