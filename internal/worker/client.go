package worker

import (
	"context"
	"time"

	"github.com/hibiken/asynq"

	"offramp-core/internal/worker/tasks"
)

// Client 封装 Asynq Client
type Client struct {
	client *asynq.Client
}

// NewClient addr: "localhost:6379"
func NewClient(addr string, password string, db int) *Client {
	c := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &Client{client: c}
}

// Enqueue 将任务推送到队列
func (c *Client) Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	return c.client.Enqueue(task, opts...)
}

// EnqueueAdvance 立即推进一笔交易
func (c *Client) EnqueueAdvance(ctx context.Context, txID, reason string) error {
	return c.ScheduleAdvance(ctx, txID, reason, 0)
}

// ScheduleAdvance delay 为 0 时立即执行
func (c *Client) ScheduleAdvance(ctx context.Context, txID, reason string, delay time.Duration) error {
	task, err := tasks.NewAdvanceTask(txID, reason)
	if err != nil {
		return err
	}
	opts := []asynq.Option{asynq.Queue("critical")}
	if delay > 0 {
		opts = []asynq.Option{asynq.Queue("default"), asynq.ProcessIn(delay)}
	}
	_, err = c.client.EnqueueContext(ctx, task, opts...)
	return err
}

// Close 关闭客户端连接
func (c *Client) Close() error {
	return c.client.Close()
}
