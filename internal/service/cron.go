package service

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"offramp-core/pkg/logger"
	"offramp-core/pkg/utils/lock"
)

const (
	lockRecoverStalled = "cron:lock:recover_stalled"
	lockSyncRates      = "cron:lock:sync_rates"
)

// CronService 定时任务，多实例部署时通过分布式锁保证同一时刻只有一个实例执行
type CronService struct {
	cron     *cron.Cron
	locker   lock.DistributedLock
	stalled  StalledLister
	enqueuer Enqueuer
	rates    RateRefresher
	pairs    []RatePair
	batch    int
	log      *zap.Logger
}

// NewCronService rates 为 nil 时不注册汇率刷新任务
func NewCronService(locker lock.DistributedLock, stalled StalledLister, enqueuer Enqueuer, rates RateRefresher, pairs []RatePair) *CronService {
	return &CronService{
		cron:     cron.New(),
		locker:   locker,
		stalled:  stalled,
		enqueuer: enqueuer,
		rates:    rates,
		pairs:    pairs,
		batch:    100,
		log:      logger.Named("cron"),
	}
}

func (s *CronService) Start() {
	_, _ = s.cron.AddFunc("@every 1m", func() { s.RecoverStalled(context.Background()) })
	if s.rates != nil && len(s.pairs) > 0 {
		_, _ = s.cron.AddFunc("@every 1m", func() { s.SyncExchangeRates(context.Background()) })
	}

	s.cron.Start()
	s.log.Info("Cron Service started")
}

func (s *CronService) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info("Cron Service stopped")
}

// RecoverStalled 重新投递长时间没有进展的交易，返回投递数量
func (s *CronService) RecoverStalled(ctx context.Context) int {
	release, ok := s.acquire(ctx, lockRecoverStalled, 50*time.Second)
	if !ok {
		return 0
	}
	defer release()

	ids, err := s.stalled.Stalled(ctx, s.batch)
	if err != nil {
		s.log.Warn("查询停滞交易失败", zap.Error(err))
		return 0
	}

	n := 0
	for _, id := range ids {
		if err := s.enqueuer.EnqueueAdvance(ctx, id, "cron"); err != nil {
			s.log.Warn("投递推进任务失败", zap.String("id", id), zap.Error(err))
			continue
		}
		n++
	}
	if n > 0 {
		s.log.Info("已重新投递停滞交易", zap.Int("count", n))
	}
	return n
}

// SyncExchangeRates 刷新汇率缓存
func (s *CronService) SyncExchangeRates(ctx context.Context) {
	release, ok := s.acquire(ctx, lockSyncRates, 30*time.Second)
	if !ok {
		return
	}
	defer release()

	for _, p := range s.pairs {
		rate, err := s.rates.Refresh(ctx, p.Base, p.Quote)
		if err != nil {
			s.log.Warn("汇率同步失败", zap.String("base", p.Base), zap.String("quote", p.Quote), zap.Error(err))
			continue
		}
		s.log.Debug("汇率已同步", zap.String("base", p.Base), zap.String("quote", p.Quote), zap.String("rate", rate.String()))
	}
}

func (s *CronService) acquire(ctx context.Context, key string, ttl time.Duration) (func(), bool) {
	token, err := s.locker.Acquire(ctx, key, ttl)
	if err != nil || token == "" {
		// 其他实例正在执行
		s.log.Debug("获取锁失败或已有实例在运行", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return func() {
		if err := s.locker.Release(ctx, key, token); err != nil {
			s.log.Warn("释放锁失败", zap.String("key", key), zap.Error(err))
		}
	}, true
}
