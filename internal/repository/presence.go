package repository

import (
	"context"

	"collab-presence/internal/domain"
)

// PresenceStore 是房间成员在线状态的权威存储，多个进程共享同一份数据。
// 所有操作以单个房间为原子粒度。
type PresenceStore interface {
	// UpsertMember creates the record or merges fields into it. Unsupplied fields are kept.
	UpsertMember(ctx context.Context, roomID, memberID string, fields domain.MemberFields) error

	// InsertMemberIfAbsent creates the record only when none exists. It reports whether
	// this call created it, so one of several concurrent first joins wins.
	InsertMemberIfAbsent(ctx context.Context, roomID, memberID string, fields domain.MemberFields) (bool, error)

	// GetMember returns ErrNotFound when the record does not exist.
	GetMember(ctx context.Context, roomID, memberID string) (*domain.MembershipRecord, error)

	// ListMembers returns an empty slice for unknown rooms.
	ListMembers(ctx context.Context, roomID string) ([]domain.MembershipRecord, error)

	// RemoveMember is idempotent. Removing the last member deletes the room.
	RemoveMember(ctx context.Context, roomID, memberID string) error

	// DeleteRoom is idempotent. It reports whether this call removed an existing room.
	DeleteRoom(ctx context.Context, roomID string) (bool, error)

	// DeleteRoomIf deletes the room only if cond holds for the member list read in the
	// same atomic step; a nil cond always holds. When the delete happened it returns the
	// room as it was at that moment. Exactly one caller wins a concurrent teardown.
	DeleteRoomIf(ctx context.Context, roomID string, cond func([]domain.MembershipRecord) bool) (*domain.RoomState, bool, error)

	// UpdateMemberIf applies fields only when the record exists and satisfies cond.
	// It reports whether the write happened.
	UpdateMemberIf(ctx context.Context, roomID, memberID string, cond domain.Precondition, fields domain.MemberFields) (bool, error)

	// GetRoom returns ErrNotFound when the room has no members.
	GetRoom(ctx context.Context, roomID string) (*domain.RoomState, error)

	// ListRooms returns every room currently tracked.
	ListRooms(ctx context.Context) ([]string, error)
}
