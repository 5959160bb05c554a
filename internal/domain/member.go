package domain

import "time"

// ConnectionState is the presence state of a member inside one room.
type ConnectionState string

const (
	StateConnected             ConnectionState = "CONNECTED"
	StateGracePeriod           ConnectionState = "GRACE_PERIOD"
	StateConfirmedDisconnected ConnectionState = "CONFIRMED_DISCONNECTED"
)

// Valid reports whether s is one of the known states.
func (s ConnectionState) Valid() bool {
	switch s {
	case StateConnected, StateGracePeriod, StateConfirmedDisconnected:
		return true
	}
	return false
}

// Present reports whether peers still consider the member part of the room.
// A member in its grace period was never announced as gone.
func (s ConnectionState) Present() bool {
	return s == StateConnected || s == StateGracePeriod
}

// MembershipRecord 表示一个成员在某个房间中的在线状态。
// 每个 (roomID, memberID) 只有一条记录，重连时原地更新。
type MembershipRecord struct {
	RoomID         string          `json:"roomId"`
	MemberID       string          `json:"memberId"`
	DisplayName    string          `json:"displayName"`
	State          ConnectionState `json:"state"`
	LastActivityAt time.Time       `json:"lastActivityAt"`
	// SocketRef is the id of the connection owning the record, empty once that
	// connection is gone.
	SocketRef      string    `json:"socketRef,omitempty"`
	JoinedAt       time.Time `json:"joinedAt"`
	DisconnectedAt time.Time `json:"disconnectedAt,omitempty"`
	// Inactive is set when the inactivity sweep confirmed the absence.
	Inactive bool `json:"inactive,omitempty"`
}

// IdleSince reports whether the member has been silent for at least threshold at now.
func (m MembershipRecord) IdleSince(now time.Time, threshold time.Duration) bool {
	return !m.LastActivityAt.Add(threshold).After(now)
}

// MemberFields is a partial update of a MembershipRecord. Nil fields are left untouched.
type MemberFields struct {
	DisplayName    *string
	State          *ConnectionState
	LastActivityAt *time.Time
	SocketRef      *string
	JoinedAt       *time.Time
	DisconnectedAt *time.Time
	Inactive       *bool
}

// Apply merges the supplied fields into rec.
func (f MemberFields) Apply(rec *MembershipRecord) {
	if f.DisplayName != nil {
		rec.DisplayName = *f.DisplayName
	}
	if f.State != nil {
		rec.State = *f.State
	}
	if f.LastActivityAt != nil {
		rec.LastActivityAt = *f.LastActivityAt
	}
	if f.SocketRef != nil {
		rec.SocketRef = *f.SocketRef
	}
	if f.JoinedAt != nil {
		rec.JoinedAt = *f.JoinedAt
	}
	if f.DisconnectedAt != nil {
		rec.DisconnectedAt = *f.DisconnectedAt
	}
	if f.Inactive != nil {
		rec.Inactive = *f.Inactive
	}
}

// Ptr returns a pointer to v. Used to build MemberFields literals.
func Ptr[T any](v T) *T { return &v }

// MemberSummary is the public view of a member sent to clients.
type MemberSummary struct {
	MemberID    string `json:"memberId"`
	DisplayName string `json:"displayName"`
}

// Summary returns the client-facing view of the record.
func (m MembershipRecord) Summary() MemberSummary {
	return MemberSummary{MemberID: m.MemberID, DisplayName: m.DisplayName}
}

// Precondition guards a compare-and-set on a MembershipRecord.
type Precondition struct {
	State ConnectionState
	// SocketRef, when set, must match the record's owner.
	SocketRef string
	// LastActivityAt, when set, must equal the record's activity time.
	LastActivityAt *time.Time
}

// InState returns a precondition on the connection state only.
func InState(s ConnectionState) Precondition {
	return Precondition{State: s}
}

// OwnedBy additionally requires the record to belong to socketRef. Empty socketRef matches any owner.
func (p Precondition) OwnedBy(socketRef string) Precondition {
	p.SocketRef = socketRef
	return p
}

// Untouched additionally requires LastActivityAt to be unchanged.
func (p Precondition) Untouched(lastActivity time.Time) Precondition {
	p.LastActivityAt = &lastActivity
	return p
}

// Holds reports whether rec satisfies p.
func (p Precondition) Holds(rec MembershipRecord) bool {
	if rec.State != p.State {
		return false
	}
	if p.SocketRef != "" && rec.SocketRef != p.SocketRef {
		return false
	}
	if p.LastActivityAt != nil && !rec.LastActivityAt.Equal(*p.LastActivityAt) {
		return false
	}
	return true
}
