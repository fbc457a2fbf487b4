package main

import (
	"context"
	"os"

	"go.uber.org/zap"

	"offramp-core/internal/bootstrap"
	"offramp-core/internal/handler"
	"offramp-core/internal/model"
	"offramp-core/internal/provider/paystack"
	"offramp-core/internal/provider/rates"
	"offramp-core/internal/provider/zerox"
	"offramp-core/internal/repository"
	"offramp-core/internal/server"
	"offramp-core/internal/service"
	"offramp-core/internal/service/mq"
	"offramp-core/internal/service/offramp"
	"offramp-core/internal/worker"
	"offramp-core/internal/worker/tasks"
	"offramp-core/pkg/cache"
	"offramp-core/pkg/config"
	"offramp-core/pkg/database"
	"offramp-core/pkg/logger"
	"offramp-core/pkg/retry"
	"offramp-core/pkg/utils/lock"
	"offramp-core/pkg/validator"

	_ "offramp-core/docs/swagger"
)

// @title Offramp Core API
// @version 1.0
// @description Crypto to fiat off-ramp service.
// @host localhost:8080
// @BasePath /
func main() {
	config.Init()
	cfg := &config.Global

	var logOpts []logger.Option
	if cfg.Log.File != "" {
		logOpts = append(logOpts, logger.WithFile(cfg.Log.File, cfg.Log.MaxSizeMB, cfg.Log.MaxBackups, cfg.Log.MaxAgeDays))
	}
	logger.Init(cfg.App.Env, logOpts...)
	defer logger.Sync()

	validator.Init()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.ConnectPostgres(cfg.DB.DSN(), cfg.App.Env == "development")
	if err != nil {
		logger.Fatal("数据库连接失败", zap.Error(err))
	}
	if cfg.App.Env == "development" {
		logger.Info("开发环境: 自动迁移 Schema (GORM AutoMigrate)")
		if err := db.AutoMigrate(model.AllModels()...); err != nil {
			logger.Fatal("数据库自动迁移失败", zap.Error(err))
		}
		if err := model.EnsureIndexes(db); err != nil {
			logger.Fatal("创建索引失败", zap.Error(err))
		}
	}

	rdb, err := database.ConnectRedis(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Fatal("Redis 连接失败", zap.Error(err))
	}

	// 钱包与链
	provisioner, err := bootstrap.Provisioner(cfg.Wallet, cfg.App.Env)
	if err != nil {
		logger.Fatal("加载主种子失败", zap.Error(err))
	}
	networks, closeNetworks, err := bootstrap.Networks(ctx, cfg.Networks)
	if err != nil {
		logger.Fatal("初始化链配置失败", zap.Error(err))
	}
	defer closeNetworks()

	sender := offramp.NewTxSender(cfg.Pipeline.ConfirmPoll, 0)
	treasuries := make(map[model.Network]*offramp.Treasury, len(networks))
	for name, net := range networks {
		t, err := offramp.NewTreasury(net, provisioner, sender)
		if err != nil {
			logger.Fatal("初始化 treasury 失败", zap.String("network", string(name)), zap.Error(err))
		}
		t.Start(ctx)
		treasuries[name] = t
		logger.Info("Treasury 就绪", zap.String("network", string(name)), zap.String("address", t.Address().Hex()))
	}

	// 外部服务
	tiers, err := offramp.FeeTiersFromConfig(cfg.Fees)
	if err != nil {
		logger.Fatal("手续费配置错误", zap.Error(err))
	}
	fees, err := offramp.NewFeeCalculator(tiers)
	if err != nil {
		logger.Fatal("手续费配置错误", zap.Error(err))
	}

	rateCache := cache.NewMultiLevelCache(
		cache.NewMemoryCache(cfg.Rates.CacheTTL, 2*cfg.Rates.CacheTTL),
		cache.NewRedisCache(rdb, "offramp:"),
	)
	rateSource, err := rates.New(cfg.Rates, rateCache)
	if err != nil {
		logger.Fatal("汇率源配置错误", zap.Error(err))
	}

	policy := retry.New(cfg.Pipeline.MaxAttempts, cfg.Pipeline.RetryInterval, cfg.Pipeline.MaxRetryInterval)
	locker := lock.NewRedisLock(rdb)

	machine := offramp.NewStateMachine(offramp.Deps{
		Store:        repository.NewOfframpRepository(db),
		Networks:     networks,
		Provisioner:  provisioner,
		Scanner:      offramp.NewTokenScanner(),
		Funder:       offramp.NewGasFunder(treasuries, policy),
		Swapper:      offramp.NewSwapOrchestrator(zerox.New(cfg.Swap, nil), sender, policy, cfg.Swap.SlippageBps),
		Consolidator: offramp.NewConsolidator(sender, treasuries),
		Verifier:     offramp.NewSettlementVerifier(cfg.Pipeline.ToleranceBps),
		Fees:         fees,
		Rates:        rateSource,
		Payouts:      offramp.NewPayoutDispatcher(paystack.New(cfg.Payout, nil), policy),
		Locker:       locker,
	}, offramp.Options{
		Currency:   cfg.Payout.Currency,
		LockTTL:    cfg.Pipeline.LockTTL,
		StallAfter: cfg.Pipeline.StallAfter,
	})

	// Worker
	queue := worker.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	defer queue.Close()
	workerSrv := worker.NewServer(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Worker.Concurrency,
		tasks.NewAdvanceHandler(machine, queue, cfg.Pipeline.RecheckDelay))
	workerSrv.Start()

	// 消息队列: 状态事件发布 + 充值通知消费
	hostname, _ := os.Hostname()
	producer, consumer := mq.New(cfg, rdb, "offramp_deposit_group", "offramp-"+hostname)
	defer producer.Close()
	go service.NewRelayService(db, producer).Start(ctx)
	go func() {
		if err := service.NewDepositListener(consumer, machine, queue).Start(ctx); err != nil {
			logger.Error("充值通知消费者退出", zap.Error(err))
		}
	}()

	// 定时任务
	var refresher service.RateRefresher
	if r, ok := rateSource.(service.RateRefresher); ok {
		refresher = r
	}
	cronSrv := service.NewCronService(locker, machine, queue, refresher, ratePairs(networks, cfg.Payout.Currency))
	cronSrv.Start()

	// HTTP + gRPC
	r := server.NewHTTPRouter(handler.NewOfframpHandler(machine, queue, cfg.Payout.Currency))
	app, err := server.New(server.Config{HttpPort: cfg.App.HttpPort, GrpcPort: cfg.App.GrpcPort}, r)
	if err != nil {
		logger.Fatal("应用启动失败", zap.Error(err))
	}

	app.Run()

	// 退出后资源清理
	cronSrv.Stop()
	workerSrv.Stop()
	cancel()
	_ = consumer.Close()
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}
	rdb.Close()
	logger.Info("系统已退出")
}

func ratePairs(networks offramp.Networks, currency string) []service.RatePair {
	seen := make(map[string]bool)
	var pairs []service.RatePair
	for _, net := range networks {
		base := net.Settlement.Asset.Symbol
		if seen[base] {
			continue
		}
		seen[base] = true
		pairs = append(pairs, service.RatePair{Base: base, Quote: currency})
	}
	return pairs
}
