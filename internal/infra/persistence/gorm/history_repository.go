package gormpersistence

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"collab-presence/internal/domain"
)

// defaultHistoryLimit 是 FindByMember 在 limit 非法时使用的条数
const defaultHistoryLimit = 20

// GormHistoryRepository 是 HistoryRepository 接口的 GORM 实现
type GormHistoryRepository struct {
	db *gorm.DB
}

// NewGormHistoryRepository 创建 GormHistoryRepository 实例
func NewGormHistoryRepository(db *gorm.DB) *GormHistoryRepository {
	if db == nil {
		panic("database connection cannot be nil for GormHistoryRepository")
	}
	return &GormHistoryRepository{db: db}
}

// SaveSessionHistory 批量插入会话历史。
// 唯一索引 (room_id, member_id, started_at) 冲突时忽略该行，重复投递的任务不会产生重复记录。
func (r *GormHistoryRepository) SaveSessionHistory(ctx context.Context, rows []domain.SessionHistory) error {
	if len(rows) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&rows).Error
	if err != nil {
		return fmt.Errorf("gorm: failed to save session history (room %s, %d rows): %w", rows[0].RoomID, len(rows), err)
	}
	return nil
}

// FindByMember 按结束时间倒序返回成员最近的会话
func (r *GormHistoryRepository) FindByMember(ctx context.Context, memberID string, limit int) ([]domain.SessionHistory, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	var rows []domain.SessionHistory
	err := r.db.WithContext(ctx).
		Where("member_id = ?", memberID).
		Order("ended_at desc").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("gorm: failed to find session history for member %s: %w", memberID, err)
	}
	return rows, nil
}
