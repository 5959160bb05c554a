package service

import (
	"context"
	"time"
)

// Confirm exposes the confirmation step to external tests.
func (s *LifecycleService) Confirm(ctx context.Context, roomID, memberID string) {
	s.confirm(ctx, roomID, memberID)
}

// SetClock replaces the time source.
func (s *LifecycleService) SetClock(now func() time.Time) {
	s.now = now
}
