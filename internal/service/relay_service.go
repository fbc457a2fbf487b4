package service

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"offramp-core/internal/model"
	"offramp-core/internal/service/mq"
	"offramp-core/pkg/logger"
)

// RelayService 将本地消息表的消息搬运到 MQ
type RelayService struct {
	db       *gorm.DB
	producer mq.Producer
	interval time.Duration
	batch    int
	log      *zap.Logger
}

func NewRelayService(db *gorm.DB, producer mq.Producer) *RelayService {
	return &RelayService{
		db:       db,
		producer: producer,
		interval: 500 * time.Millisecond,
		batch:    50,
		log:      logger.Named("relay"),
	}
}

func (s *RelayService) Start(ctx context.Context) {
	s.log.Info("启动消息中继服务")
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("停止服务")
			return
		case <-ticker.C:
			s.processPendingMessages(ctx)
		}
	}
}

// processPendingMessages 发送成功后才标记 SENT，投递语义为至少一次，消费方按交易 ID + 状态去重
func (s *RelayService) processPendingMessages(ctx context.Context) int {
	var messages []model.OutboxMessage
	if err := s.db.WithContext(ctx).
		Where("status = ?", model.OutboxPending).
		Order("id").
		Limit(s.batch).
		Find(&messages).Error; err != nil {
		s.log.Warn("查询消息失败", zap.Error(err))
		return 0
	}

	sent := 0
	for _, msg := range messages {
		if err := s.producer.Publish(ctx, msg.Topic, msg.Key, msg.Payload); err != nil {
			s.log.Warn("发送消息失败", zap.Uint64("id", msg.ID), zap.Error(err))
			s.db.WithContext(ctx).Model(&msg).UpdateColumn("attempts", gorm.Expr("attempts + 1"))
			// 保持顺序: 同一批后面的消息可能属于同一笔交易
			break
		}

		if err := s.db.WithContext(ctx).Model(&msg).Update("status", model.OutboxSent).Error; err != nil {
			s.log.Warn("更新状态失败", zap.Uint64("id", msg.ID), zap.Error(err))
			continue
		}
		sent++
	}
	if sent > 0 {
		s.log.Debug("消息已投递", zap.Int("count", sent))
	}
	return sent
}
