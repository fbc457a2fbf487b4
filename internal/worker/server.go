package worker

import (
	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"offramp-core/internal/worker/tasks"
	"offramp-core/pkg/logger"
)

// Server 封装 Asynq Server (Worker)
type Server struct {
	server *asynq.Server
	mux    *asynq.ServeMux
}

// NewServer 初始化 Worker Server
func NewServer(addr string, password string, db int, concurrency int, advance *tasks.AdvanceHandler) *Server {
	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     addr,
			Password: password,
			DB:       db,
		},
		asynq.Config{
			Concurrency: concurrency,
			// 即时推进优先于延迟复查
			Queues: map[string]int{
				"critical": 6,
				"default":  3,
			},
			Logger: logger.NewAsynqLogger(),
		},
	)

	mux := asynq.NewServeMux()
	mux.Handle(tasks.TypeAdvance, advance)

	return &Server{
		server: srv,
		mux:    mux,
	}
}

// Start 非阻塞启动
func (s *Server) Start() {
	go func() {
		if err := s.server.Run(s.mux); err != nil {
			logger.Fatal("Worker Server failed", zap.Error(err))
		}
	}()
}

// Stop 停止拉取新任务并等待进行中的任务结束
func (s *Server) Stop() {
	s.server.Stop()
	s.server.Shutdown()
}
