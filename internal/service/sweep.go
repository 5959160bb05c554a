package service

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// SweepService 驱动不活跃清理。同一进程内的扫描不会重叠：
// 上一轮未结束时新的触发会被跳过。
type SweepService struct {
	lifecycle *LifecycleService
	mu        sync.Mutex
	log       *logrus.Entry
}

func NewSweepService(lifecycle *LifecycleService) *SweepService {
	if lifecycle == nil {
		panic("LifecycleService cannot be nil for SweepService")
	}
	return &SweepService{
		lifecycle: lifecycle,
		log:       logrus.WithField("component", "inactivity_sweeper"),
	}
}

// RunOnce performs one pass. ran is false when a pass was already in progress.
func (s *SweepService) RunOnce(ctx context.Context) (report SweepReport, ran bool, err error) {
	if !s.mu.TryLock() {
		s.log.Warn("Previous sweep still running, skipping this pass")
		return SweepReport{}, false, nil
	}
	defer s.mu.Unlock()

	start := time.Now()
	report, err = s.lifecycle.SweepInactive(ctx, s.lifecycle.now())
	s.lifecycle.metrics.ObserveSweep(time.Since(start), report.MembersExpired, report.RoomsEnded, report.OrphansConfirmed, report.Errors)
	logCtx := s.log.WithFields(logrus.Fields{
		"rooms_scanned":     report.RoomsScanned,
		"members_expired":   report.MembersExpired,
		"rooms_ended":       report.RoomsEnded,
		"orphans_confirmed": report.OrphansConfirmed,
		"errors":            report.Errors,
		"duration":          time.Since(start).String(),
	})
	if err != nil {
		logCtx.WithError(err).Error("Sweep aborted")
		return report, true, err
	}
	if report.MembersExpired > 0 || report.RoomsEnded > 0 || report.OrphansConfirmed > 0 || report.Errors > 0 {
		logCtx.Info("Sweep finished")
	} else {
		logCtx.Debug("Sweep finished")
	}
	return report, true, nil
}

// Run sweeps every interval until ctx is cancelled. Used when no task queue drives the sweep.
func (s *SweepService) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	s.log.WithField("interval", interval.String()).Info("Local inactivity sweeper started")
	for {
		select {
		case <-ctx.Done():
			s.log.Info("Local inactivity sweeper stopped")
			return
		case <-ticker.C:
			// 扫描在独立 goroutine 中执行，慢扫描不会堆积 tick
			go func() { _, _, _ = s.RunOnce(ctx) }()
		}
	}
}
