// Package fanout relays room events to every process that holds sockets for the room.
package fanout

import (
	"context"

	"collab-presence/internal/domain"
)

// Deliverer writes an envelope to the sockets of this process. Implemented by the hub.
type Deliverer interface {
	Deliver(env domain.Envelope)
}

// Bridge 抽象了跨进程的房间事件广播。
// Publish 失败不会影响调用方的连接：实现需要降级为本地投递。
type Bridge interface {
	// Attach sets the local deliverer. Envelopes arriving before Attach are dropped.
	Attach(d Deliverer)
	Publish(ctx context.Context, env domain.Envelope) error
	// Subscribe/Unsubscribe are reference counted per room.
	Subscribe(ctx context.Context, roomID string) error
	Unsubscribe(ctx context.Context, roomID string) error
	Close() error
}
