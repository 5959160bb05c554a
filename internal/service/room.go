package service

import (
	"context"
	"errors"
	"strings"

	"github.com/sirupsen/logrus"

	"collab-presence/internal/domain"
	"collab-presence/internal/repository"
)

// RoomService 提供只读的房间在线状态查询。
type RoomService struct {
	store repository.PresenceStore
}

// NewRoomService 创建 RoomService 实例。
func NewRoomService(store repository.PresenceStore) *RoomService {
	if store == nil {
		panic("PresenceStore cannot be nil for RoomService")
	}
	return &RoomService{store: store}
}

// GetRoom 返回房间的当前状态。所有成员都已确认断开的房间视为不存在。
func (s *RoomService) GetRoom(ctx context.Context, roomID string) (*domain.RoomState, error) {
	if strings.TrimSpace(roomID) == "" {
		return nil, ErrInvalidRoom
	}
	logCtx := logrus.WithField("room_id", roomID)

	room, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			logCtx.WithError(err).Error("Failed to read room from presence store")
		}
		return nil, mapRepoError(err)
	}
	members := make([]domain.MembershipRecord, 0, len(room.Members))
	for _, m := range room.Members {
		members = append(members, m)
	}
	if domain.AllConfirmed(members) {
		logCtx.Debug("Room has no present members")
		return nil, ErrRoomNotFound
	}
	return room, nil
}

// PresentMembers 返回房间里仍在场 (已连接或处于宽限期) 的成员，按加入时间排序。
func (s *RoomService) PresentMembers(ctx context.Context, roomID string) ([]domain.MemberSummary, error) {
	room, err := s.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	members := make([]domain.MembershipRecord, 0, len(room.Members))
	for _, m := range room.Members {
		members = append(members, m)
	}
	peers := domain.PresentPeers(members, "")
	out := make([]domain.MemberSummary, 0, len(peers))
	for _, p := range peers {
		out = append(out, p.Summary())
	}
	return out, nil
}
