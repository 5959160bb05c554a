package worker

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"collab-presence/internal/service"
)

// Sweeper runs one inactivity pass. Implemented by service.SweepService.
type Sweeper interface {
	RunOnce(ctx context.Context) (service.SweepReport, bool, error)
}

// SweepHandler 处理周期性的不活跃清理任务
type SweepHandler struct {
	sweeper Sweeper
}

// NewSweepHandler 创建 Handler 实例
func NewSweepHandler(sweeper Sweeper) *SweepHandler {
	if sweeper == nil {
		panic("Sweeper cannot be nil for SweepHandler")
	}
	return &SweepHandler{sweeper: sweeper}
}

// ProcessTask 实现 asynq.Handler 接口。单个房间的错误不会让任务失败，
// 只有整个扫描中止 (例如无法列出房间) 时才返回错误。
func (h *SweepHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	logCtx := logrus.WithField("task_type", t.Type())

	report, ran, err := h.sweeper.RunOnce(ctx)
	if err != nil {
		// 周期任务会在下一个周期重新触发，不需要重试
		return fmt.Errorf("inactivity sweep aborted: %v: %w", err, asynq.SkipRetry)
	}
	if !ran {
		logCtx.Debug("Sweep already running in this process, skipped")
		return nil
	}
	if report.Errors > 0 {
		logCtx.Warnf("Sweep completed with %d errors", report.Errors)
	}
	return nil
}
