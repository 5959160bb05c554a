package repository

import (
	"context"

	"collab-presence/internal/domain"
)

// DocumentStore 缓存每个房间共享文档的最新快照。
// 房间销毁时调用 Release 取回最终快照并清除缓存。
type DocumentStore interface {
	// Update 覆盖房间的最新快照。
	Update(ctx context.Context, roomID string, snapshot domain.DocumentSnapshot) error

	// Get 返回房间的最新快照；没有时返回 ErrDocumentNotFound。
	Get(ctx context.Context, roomID string) (*domain.DocumentSnapshot, error)

	// Release 删除并返回最终快照。房间从未有过快照时返回 (nil, nil)。
	Release(ctx context.Context, roomID string) (*domain.DocumentSnapshot, error)
}
