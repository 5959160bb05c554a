package memorystate

import (
	"context"
	"sort"
	"sync"
	"time"

	"collab-presence/internal/domain"
	"collab-presence/internal/repository"
)

type roomEntry struct {
	members        map[string]domain.MembershipRecord
	createdAt      time.Time
	lastNonemptyAt time.Time
}

// PresenceStore is an in-process PresenceStore for single-instance deployments.
// Every operation runs under one mutex, which gives the per-room atomicity the
// Redis implementation gets from WATCH/MULTI.
type PresenceStore struct {
	mu    sync.Mutex
	rooms map[string]*roomEntry
	now   func() time.Time
}

// NewPresenceStore creates an empty in-memory store.
func NewPresenceStore() *PresenceStore {
	return &PresenceStore{
		rooms: make(map[string]*roomEntry),
		now:   time.Now,
	}
}

func (s *PresenceStore) write(roomID string, rec domain.MembershipRecord) {
	room, ok := s.rooms[roomID]
	now := s.now()
	if !ok {
		room = &roomEntry{members: make(map[string]domain.MembershipRecord), createdAt: now}
		s.rooms[roomID] = room
	}
	room.members[rec.MemberID] = rec
	if rec.State.Present() {
		room.lastNonemptyAt = now
	}
}

func (s *PresenceStore) UpsertMember(_ context.Context, roomID, memberID string, fields domain.MemberFields) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := domain.MembershipRecord{RoomID: roomID, MemberID: memberID}
	if room, ok := s.rooms[roomID]; ok {
		if existing, ok := room.members[memberID]; ok {
			rec = existing
		}
	}
	fields.Apply(&rec)
	s.write(roomID, rec)
	return nil
}

func (s *PresenceStore) InsertMemberIfAbsent(_ context.Context, roomID, memberID string, fields domain.MemberFields) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if room, ok := s.rooms[roomID]; ok {
		if _, exists := room.members[memberID]; exists {
			return false, nil
		}
	}
	rec := domain.MembershipRecord{RoomID: roomID, MemberID: memberID}
	fields.Apply(&rec)
	s.write(roomID, rec)
	return true, nil
}

func (s *PresenceStore) UpdateMemberIf(_ context.Context, roomID, memberID string, cond domain.Precondition, fields domain.MemberFields) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[roomID]
	if !ok {
		return false, nil
	}
	rec, ok := room.members[memberID]
	if !ok || !cond.Holds(rec) {
		return false, nil
	}
	fields.Apply(&rec)
	s.write(roomID, rec)
	return true, nil
}

func (s *PresenceStore) GetMember(_ context.Context, roomID, memberID string) (*domain.MembershipRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[roomID]
	if !ok {
		return nil, repository.ErrMemberNotFound
	}
	rec, ok := room.members[memberID]
	if !ok {
		return nil, repository.ErrMemberNotFound
	}
	return &rec, nil
}

func (s *PresenceStore) ListMembers(_ context.Context, roomID string) ([]domain.MembershipRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listLocked(roomID), nil
}

func (s *PresenceStore) listLocked(roomID string) []domain.MembershipRecord {
	room, ok := s.rooms[roomID]
	if !ok {
		return []domain.MembershipRecord{}
	}
	members := make([]domain.MembershipRecord, 0, len(room.members))
	for _, rec := range room.members {
		members = append(members, rec)
	}
	sort.Slice(members, func(i, j int) bool { return members[i].MemberID < members[j].MemberID })
	return members
}

func (s *PresenceStore) RemoveMember(_ context.Context, roomID, memberID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[roomID]
	if !ok {
		return nil
	}
	delete(room.members, memberID)
	if len(room.members) == 0 {
		delete(s.rooms, roomID)
	}
	return nil
}

func (s *PresenceStore) DeleteRoom(ctx context.Context, roomID string) (bool, error) {
	_, deleted, err := s.DeleteRoomIf(ctx, roomID, nil)
	return deleted, err
}

// DeleteRoomIf checks cond and deletes under the same lock, so a join can never
// slip in between the check and the delete.
func (s *PresenceStore) DeleteRoomIf(_ context.Context, roomID string, cond func([]domain.MembershipRecord) bool) (*domain.RoomState, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[roomID]
	if !ok {
		return nil, false, nil
	}
	if cond != nil && !cond(s.listLocked(roomID)) {
		return nil, false, nil
	}
	state := s.stateLocked(roomID, room)
	delete(s.rooms, roomID)
	return state, true, nil
}

func (s *PresenceStore) GetRoom(_ context.Context, roomID string) (*domain.RoomState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[roomID]
	if !ok || len(room.members) == 0 {
		return nil, repository.ErrRoomNotFound
	}
	return s.stateLocked(roomID, room), nil
}

func (s *PresenceStore) stateLocked(roomID string, room *roomEntry) *domain.RoomState {
	state := &domain.RoomState{
		RoomID:         roomID,
		Members:        make(map[string]domain.MembershipRecord, len(room.members)),
		CreatedAt:      room.createdAt,
		LastNonemptyAt: room.lastNonemptyAt,
	}
	for id, rec := range room.members {
		state.Members[id] = rec
	}
	return state
}

func (s *PresenceStore) ListRooms(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rooms := make([]string, 0, len(s.rooms))
	for id := range s.rooms {
		rooms = append(rooms, id)
	}
	sort.Strings(rooms)
	return rooms, nil
}

// Reset drops all state. Called at shutdown and by tests.
func (s *PresenceStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms = make(map[string]*roomEntry)
}
