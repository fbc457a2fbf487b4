package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"offramp-core/internal/model"
	"offramp-core/internal/service/offramp"
	"offramp-core/pkg/logger"
)

// 任务类型常量
const (
	TypeAdvance = "offramp:advance"
)

// AdvancePayload 推进任务参数
type AdvancePayload struct {
	TransactionID string `json:"transaction_id"`
	Reason        string `json:"reason,omitempty"` // deposit / cron / api / recheck
}

// NewAdvanceTask 创建推进任务。单次流水线可能包含多笔链上确认，超时需要足够长
func NewAdvanceTask(txID, reason string) (*asynq.Task, error) {
	payload, err := json.Marshal(AdvancePayload{TransactionID: txID, Reason: reason})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeAdvance, payload, asynq.MaxRetry(5), asynq.Timeout(30*time.Minute)), nil
}

// Pipeline 由 offramp.StateMachine 实现
type Pipeline interface {
	Advance(ctx context.Context, id string) (*model.OfframpTransaction, error)
}

// Scheduler 延迟重新投递
type Scheduler interface {
	ScheduleAdvance(ctx context.Context, txID, reason string, delay time.Duration) error
}

// AdvanceHandler 处理推进任务
type AdvanceHandler struct {
	pipeline  Pipeline
	scheduler Scheduler
	recheck   time.Duration
	log       *zap.Logger
}

func NewAdvanceHandler(pipeline Pipeline, scheduler Scheduler, recheck time.Duration) *AdvanceHandler {
	return &AdvanceHandler{
		pipeline:  pipeline,
		scheduler: scheduler,
		recheck:   recheck,
		log:       logger.Named("worker"),
	}
}

// ProcessTask 实现 asynq.Handler
func (h *AdvanceHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var p AdvancePayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		// JSON 解析失败，重试也没用
		return fmt.Errorf("json.Unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}

	tx, err := h.pipeline.Advance(ctx, p.TransactionID)
	switch {
	case err == nil:
		h.log.Debug("推进完成", zap.String("id", p.TransactionID), zap.String("status", string(tx.Status)))
		return nil
	case errors.Is(err, offramp.ErrNotFound):
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	case tx != nil && tx.Status == model.StatusFailed:
		// 失败原因已落库，等待人工重启
		return nil
	case errors.Is(err, offramp.ErrPipelineBusy):
		// 正在运行的流水线会处理到底
		return nil
	case errors.Is(err, offramp.ErrInsufficientBalance):
		// 等待充值通知或定时任务
		return nil
	case errors.Is(err, offramp.ErrSettlementVerification),
		errors.Is(err, offramp.ErrSwapUnconfirmed),
		errors.Is(err, offramp.ErrScanUnavailable),
		errors.Is(err, offramp.ErrRateUnavailable),
		errors.Is(err, offramp.ErrStaleState):
		h.log.Info("稍后重新检查", zap.String("id", p.TransactionID), zap.Duration("delay", h.recheck), zap.Error(err))
		return h.scheduler.ScheduleAdvance(ctx, p.TransactionID, "recheck", h.recheck)
	}
	return err
}
