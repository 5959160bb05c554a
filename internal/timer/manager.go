package timer

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Key addresses one grace timer.
type Key struct {
	RoomID   string
	MemberID string
}

func (k Key) String() string { return k.RoomID + ":" + k.MemberID }

// Callback runs when a timer expires. It receives only the key and must
// re-fetch whatever state it needs.
type Callback func(key Key)

type entry struct {
	id       uint64
	t        *time.Timer
	deadline time.Time
}

// Manager 维护按 (roomID, memberID) 索引的宽限期定时器。
// 同一个 key 最多只有一个有效定时器；重新 Arm 会先取消旧的定时器。
type Manager struct {
	mu      sync.Mutex
	timers  map[Key]*entry
	nextID  uint64
	stopped bool
	log     *logrus.Entry
}

// NewManager 创建定时器管理器
func NewManager() *Manager {
	return &Manager{
		timers: make(map[Key]*entry),
		log:    logrus.WithField("component", "grace_timer"),
	}
}

// Arm cancels any live timer for key and schedules cb after d.
func (m *Manager) Arm(key Key, d time.Duration, cb Callback) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		m.log.WithField("key", key.String()).Warn("Timer manager stopped, ignoring arm")
		return
	}
	if old, ok := m.timers[key]; ok {
		old.t.Stop()
		delete(m.timers, key)
	}
	m.nextID++
	id := m.nextID
	e := &entry{id: id, deadline: time.Now().Add(d)}
	e.t = time.AfterFunc(d, func() { m.fire(key, id, cb) })
	m.timers[key] = e
}

// fire releases the slot and runs cb, unless the timer was cancelled or
// replaced after AfterFunc already started.
func (m *Manager) fire(key Key, id uint64, cb Callback) {
	m.mu.Lock()
	e, ok := m.timers[key]
	if !ok || e.id != id {
		m.mu.Unlock()
		return
	}
	delete(m.timers, key)
	m.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			m.log.WithFields(logrus.Fields{
				"room_id":   key.RoomID,
				"member_id": key.MemberID,
				"panic":     r,
			}).Error("Grace timer callback panicked")
		}
	}()
	cb(key)
}

// Cancel stops the live timer for key. It reports whether one was pending.
func (m *Manager) Cancel(key Key) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.timers[key]
	if !ok {
		return false
	}
	e.t.Stop()
	delete(m.timers, key)
	return true
}

// CancelRoom stops every timer belonging to roomID and returns how many were pending.
func (m *Manager) CancelRoom(roomID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for key, e := range m.timers {
		if key.RoomID != roomID {
			continue
		}
		e.t.Stop()
		delete(m.timers, key)
		n++
	}
	return n
}

// Pending reports whether key has a live timer.
func (m *Manager) Pending(key Key) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.timers[key]
	return ok
}

// Deadline returns when the live timer for key expires.
func (m *Manager) Deadline(key Key) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.timers[key]
	if !ok {
		return time.Time{}, false
	}
	return e.deadline, true
}

// Len returns the number of live timers.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

// Stop cancels all timers. Later Arm calls are ignored.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key, e := range m.timers {
		e.t.Stop()
		delete(m.timers, key)
	}
	m.stopped = true
	m.log.Info("All grace timers cancelled")
}
