package fanout

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"collab-presence/internal/domain"
)

// LocalBridge delivers every envelope in-process. Used for single-instance deployments.
type LocalBridge struct {
	mu        sync.RWMutex
	deliverer Deliverer
}

func NewLocalBridge() *LocalBridge {
	return &LocalBridge{}
}

func (b *LocalBridge) Attach(d Deliverer) {
	b.mu.Lock()
	b.deliverer = d
	b.mu.Unlock()
}

func (b *LocalBridge) Publish(_ context.Context, env domain.Envelope) error {
	b.mu.RLock()
	d := b.deliverer
	b.mu.RUnlock()
	if d == nil {
		logrus.WithFields(logrus.Fields{"room_id": env.RoomID, "event": env.Event}).Warn("Fanout: no deliverer attached, dropping envelope")
		return nil
	}
	d.Deliver(env)
	return nil
}

func (b *LocalBridge) Subscribe(context.Context, string) error   { return nil }
func (b *LocalBridge) Unsubscribe(context.Context, string) error { return nil }
func (b *LocalBridge) Close() error                              { return nil }
