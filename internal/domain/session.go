package domain

import (
	"strings"
	"time"
)

// DocumentSnapshot is the latest known content of a room's shared document.
type DocumentSnapshot struct {
	Code      string    `json:"code"`
	Language  string    `json:"language"`
	UpdatedBy string    `json:"updatedBy,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// SessionRecord is handed to the persistence collaborator exactly once per room teardown.
type SessionRecord struct {
	RoomID         string            `json:"roomId"`
	ParticipantIDs []string          `json:"participantIds"`
	Snapshot       *DocumentSnapshot `json:"snapshot,omitempty"`
	Reason         string            `json:"reason"`
	CreatedAt      time.Time         `json:"createdAt"`
	EndedAt        time.Time         `json:"endedAt"`
}

// Teardown reasons.
const (
	EndReasonAllDisconnected = "all_disconnected"
	EndReasonInactivity      = "inactivity"
)

// SessionHistory 是会话结束后按参与者保存的历史记录 (数据库模型)。
type SessionHistory struct {
	ID           uint      `gorm:"primaryKey"`
	RoomID       string    `gorm:"size:191;index:idx_session_member,unique;not null"`
	MemberID     string    `gorm:"size:191;index:idx_session_member,unique;index;not null"`
	Participants string    `gorm:"type:text;not null"` // comma separated member ids
	Code         string    `gorm:"type:mediumtext"`
	Language     string    `gorm:"size:50"`
	Reason       string    `gorm:"size:50;not null"`
	StartedAt    time.Time `gorm:"index:idx_session_member,unique;not null"`
	EndedAt      time.Time `gorm:"index;not null"`
	CreatedAt    time.Time `gorm:"autoCreateTime"`
}

// HistoryRows expands a SessionRecord into one row per participant.
func (r SessionRecord) HistoryRows() []SessionHistory {
	rows := make([]SessionHistory, 0, len(r.ParticipantIDs))
	joined := strings.Join(r.ParticipantIDs, ",")
	for _, id := range r.ParticipantIDs {
		row := SessionHistory{
			RoomID:       r.RoomID,
			MemberID:     id,
			Participants: joined,
			Reason:       r.Reason,
			StartedAt:    r.CreatedAt,
			EndedAt:      r.EndedAt,
		}
		if r.Snapshot != nil {
			row.Code = r.Snapshot.Code
			row.Language = r.Snapshot.Language
		}
		rows = append(rows, row)
	}
	return rows
}
