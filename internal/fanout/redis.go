package fanout

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"collab-presence/internal/domain"
)

// RedisBridge 通过 Redis Pub/Sub 在多个进程间广播房间事件。
// 每个房间一个频道 {prefix}room:{id}:events；本进程只订阅有本地连接的房间。
type RedisBridge struct {
	client    *redis.Client
	keyPrefix string
	log       *logrus.Entry

	mu         sync.Mutex
	deliverer  Deliverer
	pubsub     *redis.PubSub
	refs       map[string]int  // 本地连接引用计数
	subscribed map[string]bool // Redis 已确认订阅的房间
	degraded   bool
	closed     bool
}

// NewRedisBridge 创建 RedisBridge 实例
func NewRedisBridge(client *redis.Client, keyPrefix string) *RedisBridge {
	if client == nil {
		panic("redis client cannot be nil for RedisBridge")
	}
	if keyPrefix == "" {
		keyPrefix = "cp:"
	}
	return &RedisBridge{
		client:     client,
		keyPrefix:  keyPrefix,
		log:        logrus.WithField("component", "fanout"),
		refs:       make(map[string]int),
		subscribed: make(map[string]bool),
	}
}

func (b *RedisBridge) channel(roomID string) string {
	return fmt.Sprintf("%sroom:%s:events", b.keyPrefix, roomID)
}

func (b *RedisBridge) Attach(d Deliverer) {
	b.mu.Lock()
	b.deliverer = d
	b.mu.Unlock()
}

// Degraded reports whether the last Redis operation failed.
func (b *RedisBridge) Degraded() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.degraded
}

func (b *RedisBridge) setDegraded(v bool, err error) {
	b.mu.Lock()
	changed := b.degraded != v
	b.degraded = v
	b.mu.Unlock()
	if !changed {
		return
	}
	if v {
		b.log.WithError(err).Warn("Redis fan-out unavailable, delivering locally only")
	} else {
		b.log.Info("Redis fan-out recovered")
	}
}

func (b *RedisBridge) deliverLocal(env domain.Envelope) {
	b.mu.Lock()
	d := b.deliverer
	b.mu.Unlock()
	if d == nil {
		b.log.WithFields(logrus.Fields{"room_id": env.RoomID, "event": env.Event}).Warn("No deliverer attached, dropping envelope")
		return
	}
	d.Deliver(env)
}

// Publish 将事件发布到房间频道。Redis 失败时降级为本地投递，不向调用方返回错误。
func (b *RedisBridge) Publish(ctx context.Context, env domain.Envelope) error {
	logCtx := b.log.WithFields(logrus.Fields{"room_id": env.RoomID, "event": env.Event})

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("fanout: failed to marshal %s envelope for room %s: %w", env.Event, env.RoomID, err)
	}
	if err := b.client.Publish(ctx, b.channel(env.RoomID), data).Err(); err != nil {
		b.setDegraded(true, err)
		logCtx.WithError(err).Debug("Publish failed, falling back to local delivery")
		b.deliverLocal(env)
		return nil
	}
	b.setDegraded(false, nil)

	// 本地有连接但订阅没有成功时，订阅收不到这条消息
	b.mu.Lock()
	missing := b.refs[env.RoomID] > 0 && !b.subscribed[env.RoomID]
	b.mu.Unlock()
	if missing {
		b.deliverLocal(env)
	}
	return nil
}

// Subscribe 增加房间的本地引用计数，第一次引用时订阅 Redis 频道。
func (b *RedisBridge) Subscribe(ctx context.Context, roomID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("fanout: bridge closed")
	}
	b.refs[roomID]++
	if b.subscribed[roomID] {
		return nil
	}

	channel := b.channel(roomID)
	if b.pubsub == nil {
		ps := b.client.Subscribe(ctx, channel)
		// 等待订阅确认，保证返回后发布的消息能被收到
		if _, err := ps.Receive(ctx); err != nil {
			_ = ps.Close()
			b.markDegradedLocked(roomID, err)
			return nil
		}
		b.pubsub = ps
		go b.receive(ps.Channel())
	} else if err := b.pubsub.Subscribe(ctx, channel); err != nil {
		b.markDegradedLocked(roomID, err)
		return nil
	}
	b.subscribed[roomID] = true
	b.log.WithField("room_id", roomID).Debug("Subscribed to room channel")
	return nil
}

func (b *RedisBridge) markDegradedLocked(roomID string, err error) {
	if !b.degraded {
		b.log.WithField("room_id", roomID).WithError(err).Warn("Redis subscribe failed, delivering locally only")
	}
	b.degraded = true
}

// Unsubscribe 减少引用计数，最后一个本地连接离开时退订频道。
func (b *RedisBridge) Unsubscribe(ctx context.Context, roomID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.refs[roomID] == 0 {
		return nil
	}
	b.refs[roomID]--
	if b.refs[roomID] > 0 {
		return nil
	}
	delete(b.refs, roomID)
	if !b.subscribed[roomID] {
		return nil
	}
	delete(b.subscribed, roomID)
	if b.pubsub == nil {
		return nil
	}
	if err := b.pubsub.Unsubscribe(ctx, b.channel(roomID)); err != nil {
		b.log.WithField("room_id", roomID).WithError(err).Warn("Failed to unsubscribe room channel")
	}
	return nil
}

func (b *RedisBridge) receive(ch <-chan *redis.Message) {
	for msg := range ch {
		var env domain.Envelope
		if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
			b.log.WithField("channel", msg.Channel).WithError(err).Warn("Dropping malformed envelope")
			continue
		}
		b.deliverLocal(env)
	}
	b.log.Debug("Receive loop exited")
}

// Close 关闭订阅连接，之后不能再订阅
func (b *RedisBridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	b.refs = make(map[string]int)
	b.subscribed = make(map[string]bool)
	if b.pubsub == nil {
		return nil
	}
	return b.pubsub.Close()
}
