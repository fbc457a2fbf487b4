package mq

import (
	"github.com/redis/go-redis/v9"

	"offramp-core/pkg/config"
)

// New 按 redis.mq_type 选择实现
func New(cfg *config.Config, rdb *redis.Client, group, name string) (Producer, Consumer) {
	if cfg.Redis.MQType == "kafka" {
		return NewKafkaProducer(cfg.Kafka.Brokers), NewKafkaConsumer(cfg.Kafka.Brokers, group)
	}
	return NewRedisProducer(rdb), NewRedisConsumer(rdb, group, name)
}
