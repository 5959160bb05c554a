package fanout

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collab-presence/internal/domain"
)

type recorder struct {
	mu   sync.Mutex
	envs []domain.Envelope
}

func (r *recorder) Deliver(env domain.Envelope) {
	r.mu.Lock()
	r.envs = append(r.envs, env)
	r.mu.Unlock()
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.envs)
}

func (r *recorder) last() domain.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.envs[len(r.envs)-1]
}

func newBridge(t *testing.T, mr *miniredis.Miniredis) (*RedisBridge, *recorder) {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	b := NewRedisBridge(client, "test:")
	rec := &recorder{}
	b.Attach(rec)
	t.Cleanup(func() {
		_ = b.Close()
		_ = client.Close()
	})
	return b, rec
}

func envelope(t *testing.T, roomID string) domain.Envelope {
	t.Helper()
	env, err := domain.NewEnvelope(roomID, domain.MemberJoined{MemberID: "alice", DisplayName: "Alice"})
	require.NoError(t, err)
	return env
}

func TestRedisBridge_CrossProcessDelivery(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()
	a, recA := newBridge(t, mr)
	b, recB := newBridge(t, mr)

	require.NoError(t, a.Subscribe(ctx, "r1"))
	require.Equal(t, 1, mr.PubSubNumSub("test:room:r1:events")["test:room:r1:events"])

	require.NoError(t, b.Publish(ctx, envelope(t, "r1").Excluding("alice")))

	assert.Eventually(t, func() bool { return recA.count() == 1 }, time.Second, 10*time.Millisecond)
	got := recA.last()
	assert.Equal(t, domain.EventMemberJoined, got.Event)
	assert.Equal(t, "alice", got.Exclude)
	var payload domain.MemberJoined
	require.NoError(t, got.DecodePayload(&payload))
	assert.Equal(t, "Alice", payload.DisplayName)

	assert.Never(t, func() bool { return recB.count() > 0 }, 100*time.Millisecond, 10*time.Millisecond,
		"publisher without local sockets must not deliver")
}

func TestRedisBridge_PublisherReceivesOnce(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()
	a, rec := newBridge(t, mr)

	require.NoError(t, a.Subscribe(ctx, "r1"))
	require.NoError(t, a.Publish(ctx, envelope(t, "r1")))

	assert.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 10*time.Millisecond)
	assert.Never(t, func() bool { return rec.count() > 1 }, 100*time.Millisecond, 10*time.Millisecond)
}

func TestRedisBridge_RefCountedSubscriptions(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()
	a, _ := newBridge(t, mr)
	channel := "test:room:r1:events"

	require.NoError(t, a.Subscribe(ctx, "r1"))
	require.NoError(t, a.Subscribe(ctx, "r1"))
	require.NoError(t, a.Unsubscribe(ctx, "r1"))
	assert.Equal(t, 1, mr.PubSubNumSub(channel)[channel])

	require.NoError(t, a.Unsubscribe(ctx, "r1"))
	assert.Eventually(t, func() bool { return mr.PubSubNumSub(channel)[channel] == 0 }, time.Second, 10*time.Millisecond)

	require.NoError(t, a.Unsubscribe(ctx, "r1"), "extra unsubscribe is a no-op")
}

func TestRedisBridge_DegradesToLocalDelivery(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()
	a, rec := newBridge(t, mr)

	mr.Close()

	require.NoError(t, a.Subscribe(ctx, "r1"), "subscribe failure never reaches the socket")
	require.NoError(t, a.Publish(ctx, envelope(t, "r1")))
	assert.True(t, a.Degraded())
	assert.Equal(t, 1, rec.count(), "degraded publish is delivered locally and synchronously")
}

func TestLocalBridge(t *testing.T) {
	b := NewLocalBridge()
	ctx := context.Background()

	require.NoError(t, b.Publish(ctx, envelope(t, "r1")), "no deliverer yet")

	rec := &recorder{}
	b.Attach(rec)
	require.NoError(t, b.Subscribe(ctx, "r1"))
	require.NoError(t, b.Publish(ctx, envelope(t, "r1")))
	assert.Equal(t, 1, rec.count())
	require.NoError(t, b.Unsubscribe(ctx, "r1"))
	require.NoError(t, b.Close())
}
