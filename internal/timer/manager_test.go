package timer

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var key = Key{RoomID: "room-1", MemberID: "alice"}

func TestManager_ArmFires(t *testing.T) {
	m := NewManager()
	fired := make(chan Key, 1)

	m.Arm(key, 10*time.Millisecond, func(k Key) { fired <- k })
	assert.True(t, m.Pending(key))

	select {
	case k := <-fired:
		assert.Equal(t, key, k)
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
	assert.False(t, m.Pending(key), "slot must be released after firing")
}

func TestManager_RearmReplacesPrevious(t *testing.T) {
	m := NewManager()
	var first, second int32

	m.Arm(key, 20*time.Millisecond, func(Key) { atomic.AddInt32(&first, 1) })
	m.Arm(key, 40*time.Millisecond, func(Key) { atomic.AddInt32(&second, 1) })
	assert.Equal(t, 1, m.Len())

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&second) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&first))
}

func TestManager_CancelPreventsCallback(t *testing.T) {
	m := NewManager()
	var calls int32

	m.Arm(key, 20*time.Millisecond, func(Key) { atomic.AddInt32(&calls, 1) })
	assert.True(t, m.Cancel(key))
	assert.False(t, m.Cancel(key), "second cancel finds nothing")

	assert.Never(t, func() bool { return atomic.LoadInt32(&calls) > 0 }, 80*time.Millisecond, 10*time.Millisecond)
}

func TestManager_CancelRoom(t *testing.T) {
	m := NewManager()
	noop := func(Key) {}

	m.Arm(Key{RoomID: "r1", MemberID: "a"}, time.Minute, noop)
	m.Arm(Key{RoomID: "r1", MemberID: "b"}, time.Minute, noop)
	m.Arm(Key{RoomID: "r2", MemberID: "a"}, time.Minute, noop)

	assert.Equal(t, 2, m.CancelRoom("r1"))
	assert.Equal(t, 1, m.Len())
	assert.True(t, m.Pending(Key{RoomID: "r2", MemberID: "a"}))
	m.Stop()
}

func TestManager_PanicIsRecovered(t *testing.T) {
	m := NewManager()
	done := make(chan struct{})

	m.Arm(key, 5*time.Millisecond, func(Key) {
		defer close(done)
		panic("boom")
	})
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("callback did not run")
	}
	assert.Eventually(t, func() bool { return !m.Pending(key) }, time.Second, 5*time.Millisecond)

	// manager still usable
	fired := make(chan struct{})
	m.Arm(key, 5*time.Millisecond, func(Key) { close(fired) })
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("manager unusable after panic")
	}
}

func TestManager_StopCancelsAllAndRejectsArm(t *testing.T) {
	m := NewManager()
	var calls int32
	cb := func(Key) { atomic.AddInt32(&calls, 1) }

	m.Arm(key, 10*time.Millisecond, cb)
	m.Stop()
	require.Equal(t, 0, m.Len())

	m.Arm(key, 5*time.Millisecond, cb)
	assert.False(t, m.Pending(key))
	assert.Never(t, func() bool { return atomic.LoadInt32(&calls) > 0 }, 60*time.Millisecond, 10*time.Millisecond)
}

func TestManager_Deadline(t *testing.T) {
	m := NewManager()
	defer m.Stop()

	_, ok := m.Deadline(key)
	assert.False(t, ok)

	before := time.Now()
	m.Arm(key, time.Minute, func(Key) {})
	d, ok := m.Deadline(key)
	require.True(t, ok)
	assert.WithinDuration(t, before.Add(time.Minute), d, time.Second)
}
