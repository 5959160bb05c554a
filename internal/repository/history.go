package repository

import (
	"context"

	"collab-presence/internal/domain"
)

// HistoryRepository 定义了会话历史在数据库中的持久化操作。
type HistoryRepository interface {
	// SaveSessionHistory stores one row per participant. Re-saving the same
	// (room, member, start) triple must not create duplicates.
	SaveSessionHistory(ctx context.Context, rows []domain.SessionHistory) error

	// FindByMember returns the most recent sessions of a member.
	FindByMember(ctx context.Context, memberID string, limit int) ([]domain.SessionHistory, error)
}
