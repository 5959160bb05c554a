package worker

import (
	"context"
	"errors"
	"net/http"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"collab-presence/internal/repository"
	"collab-presence/internal/tasks"
)

// WorkerServer 封装了 Asynq Worker Server 的启动和关闭逻辑
type WorkerServer struct {
	server      *asynq.Server
	log         *logrus.Entry
	historyRepo repository.HistoryRepository // 为 nil 时不注册会话持久化任务
	sweeper     Sweeper
}

// NewWorkerServer 创建一个新的 WorkerServer 实例
func NewWorkerServer(redisOpt asynq.RedisClientOpt, historyRepo repository.HistoryRepository, sweeper Sweeper, logger *logrus.Logger) *WorkerServer {
	logEntry := logger.WithField("component", "worker_server")

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: 10,
			Queues: map[string]int{
				"critical": 6,
				"default":  3,
				"low":      1,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				taskID := ""
				if rw := task.ResultWriter(); rw != nil {
					taskID = rw.TaskID()
				}
				retryCount, _ := asynq.GetRetryCount(ctx)
				maxRetry, _ := asynq.GetMaxRetry(ctx)
				logEntry.WithFields(logrus.Fields{
					"task_id":   taskID,
					"task_type": task.Type(),
					"retries":   retryCount,
					"max_retry": maxRetry,
				}).Errorf("Task failed: %v", err)
			}),
			Logger:   logEntry,
			LogLevel: asynq.WarnLevel,
		},
	)

	return &WorkerServer{
		server:      server,
		log:         logEntry,
		historyRepo: historyRepo,
		sweeper:     sweeper,
	}
}

// Mux 构建任务路由
func (ws *WorkerServer) Mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	if ws.historyRepo != nil {
		mux.HandleFunc(tasks.TypeSessionPersist, NewSessionPersistenceHandler(ws.historyRepo).ProcessTask)
	}
	if ws.sweeper != nil {
		mux.HandleFunc(tasks.TypeInactivitySweep, NewSweepHandler(ws.sweeper).ProcessTask)
	}
	return mux
}

// Start 运行 Worker Server，应该在一个单独的 goroutine 中调用
func (ws *WorkerServer) Start() {
	ws.log.Info("Worker server starting...")
	if err := ws.server.Run(ws.Mux()); err != nil {
		if !errors.Is(err, http.ErrServerClosed) && !errors.Is(err, asynq.ErrServerClosed) {
			ws.log.Fatalf("Could not run worker server: %v", err)
		} else {
			ws.log.Info("Worker server stopped.")
		}
	}
}

// Shutdown 优雅地关闭 Worker Server
func (ws *WorkerServer) Shutdown() {
	ws.log.Info("Shutting down worker server...")
	ws.server.Shutdown()
	ws.log.Info("Worker server shut down complete.")
}
