package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPrecondition_Holds(t *testing.T) {
	now := time.Now()
	rec := MembershipRecord{State: StateConnected, SocketRef: "s1", LastActivityAt: now}

	assert.True(t, InState(StateConnected).Holds(rec))
	assert.False(t, InState(StateGracePeriod).Holds(rec))
	assert.True(t, InState(StateConnected).OwnedBy("").Holds(rec), "empty socket matches any owner")
	assert.True(t, InState(StateConnected).OwnedBy("s1").Holds(rec))
	assert.False(t, InState(StateConnected).OwnedBy("s0").Holds(rec), "stale socket")
	assert.True(t, InState(StateConnected).Untouched(now).Holds(rec))
	assert.False(t, InState(StateConnected).Untouched(now.Add(-time.Second)).Holds(rec))
}

func TestMembershipRecord_IdleSince(t *testing.T) {
	now := time.Now()
	rec := MembershipRecord{LastActivityAt: now.Add(-5 * time.Minute)}

	assert.True(t, rec.IdleSince(now, 5*time.Minute), "threshold is inclusive")
	assert.False(t, rec.IdleSince(now, 6*time.Minute))
}

func TestMemberFields_ApplyMerges(t *testing.T) {
	rec := MembershipRecord{DisplayName: "Alice", State: StateConnected, SocketRef: "s1"}
	MemberFields{State: Ptr(StateGracePeriod), SocketRef: Ptr("")}.Apply(&rec)

	assert.Equal(t, "Alice", rec.DisplayName)
	assert.Equal(t, StateGracePeriod, rec.State)
	assert.Empty(t, rec.SocketRef)
}

func TestPresentPeersAndAllConfirmed(t *testing.T) {
	t0 := time.Now()
	members := []MembershipRecord{
		{MemberID: "carol", State: StateConfirmedDisconnected, JoinedAt: t0},
		{MemberID: "bob", State: StateGracePeriod, JoinedAt: t0.Add(time.Second)},
		{MemberID: "alice", State: StateConnected, JoinedAt: t0.Add(2 * time.Second)},
		{MemberID: "dave", State: StateConnected, JoinedAt: t0},
	}

	peers := PresentPeers(members, "alice")
	ids := make([]string, 0, len(peers))
	for _, p := range peers {
		ids = append(ids, p.MemberID)
	}
	assert.Equal(t, []string{"dave", "bob"}, ids)

	assert.False(t, AllConfirmed(members))
	assert.True(t, AllConfirmed(members[:1]))
	assert.True(t, AllConfirmed(nil))

	assert.False(t, Endable(nil), "an empty room is not a session that ended")
	assert.False(t, Endable(members))
	assert.True(t, Endable(members[:1]))
}
