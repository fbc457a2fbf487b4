package service

import (
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"

	"offramp-core/internal/event"
	"offramp-core/internal/service/mq"
	"offramp-core/internal/service/offramp"
	"offramp-core/pkg/logger"
)

// DepositListener 消费链上监听服务的充值通知，触发对应交易的流水线
type DepositListener struct {
	consumer mq.Consumer
	lookup   ActiveLookup
	enqueuer Enqueuer
	log      *zap.Logger
}

func NewDepositListener(consumer mq.Consumer, lookup ActiveLookup, enqueuer Enqueuer) *DepositListener {
	return &DepositListener{
		consumer: consumer,
		lookup:   lookup,
		enqueuer: enqueuer,
		log:      logger.Named("deposit"),
	}
}

// Start Redis 实现会阻塞，Kafka 实现立即返回
func (l *DepositListener) Start(ctx context.Context) error {
	return l.consumer.Subscribe(ctx, event.TopicDeposit, func(msg *mq.Message) error {
		return l.handle(ctx, msg)
	})
}

func (l *DepositListener) handle(ctx context.Context, msg *mq.Message) error {
	var ev event.DepositDetectedEvent
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		// 格式错误的消息直接丢弃
		l.log.Warn("无法解析充值通知", zap.String("id", msg.ID), zap.Error(err))
		return nil
	}

	tx, err := l.lookup.ActiveForWallet(ctx, ev.Address)
	if errors.Is(err, offramp.ErrNotFound) {
		l.log.Debug("地址没有进行中的交易", zap.String("address", ev.Address))
		return nil
	}
	if err != nil {
		return err
	}

	l.log.Info("收到充值通知",
		zap.String("id", tx.ID),
		zap.String("network", ev.Network),
		zap.String("tx_hash", ev.TxHash))
	return l.enqueuer.EnqueueAdvance(ctx, tx.ID, "deposit")
}
