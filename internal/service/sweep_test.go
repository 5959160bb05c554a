package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"collab-presence/internal/repository/mocks"
	"collab-presence/internal/service"
	"collab-presence/internal/timer"
)

func TestSweepService_RunOnceNeverOverlaps(t *testing.T) {
	store := mocks.NewPresenceStore(t)
	timers := timer.NewManager()
	defer timers.Stop()
	lifecycle := service.NewLifecycleService(store, nil, timers, &recordingBus{}, nil, service.LifecycleConfig{
		GracePeriod: time.Second, InactivityThreshold: time.Minute,
	})
	sweeper := service.NewSweepService(lifecycle)
	ctx := context.Background()

	entered := make(chan struct{})
	release := make(chan struct{})
	store.On("ListRooms", ctx).Run(func(_ mock.Arguments) {
		close(entered)
		<-release
	}).Return([]string{}, nil).Once()

	done := make(chan service.SweepReport)
	go func() {
		report, ran, err := sweeper.RunOnce(ctx)
		assert.True(t, ran)
		assert.NoError(t, err)
		done <- report
	}()
	<-entered

	_, ran, err := sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.False(t, ran, "second pass is skipped while the first runs")

	close(release)
	select {
	case report := <-done:
		assert.Equal(t, service.SweepReport{}, report)
	case <-time.After(time.Second):
		t.Fatal("first pass did not finish")
	}
}

func TestSweepService_RunTicks(t *testing.T) {
	f := newFixture(t)
	sweeper := service.NewSweepService(f.svc)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 成员的最后活动时间远在阈值之前
	old := time.Now().Add(-time.Hour)
	_, err := f.svc.Join(ctx, "r1", "u1", "User One", "s1")
	require.NoError(t, err)
	f.svc.SetClock(func() time.Time { return old.Add(2 * time.Hour) })

	go sweeper.Run(ctx, 10*time.Millisecond)

	assert.Eventually(t, func() bool { return len(f.persister.all()) == 1 }, time.Second, 10*time.Millisecond)
}
