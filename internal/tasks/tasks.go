package tasks

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"

	"collab-presence/internal/domain"
)

// 任务类型常量
const (
	TypeSessionPersist  = "session:persist" // 房间销毁后持久化会话历史
	TypeInactivitySweep = "presence:sweep"  // 周期性不活跃清理
)

// SessionPersistPayload 是会话持久化任务的数据结构
type SessionPersistPayload struct {
	Session domain.SessionRecord `json:"session"`
}

// SessionTaskID 返回会话任务的唯一 ID，同一会话重复入队会被 asynq 拒绝。
func SessionTaskID(rec domain.SessionRecord) string {
	return fmt.Sprintf("session:%s:%d", rec.RoomID, rec.CreatedAt.UnixMilli())
}

// NewSessionPersistTask 创建会话持久化任务
func NewSessionPersistTask(rec domain.SessionRecord) (*asynq.Task, error) {
	payload, err := json.Marshal(SessionPersistPayload{Session: rec})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeSessionPersist, payload, asynq.TaskID(SessionTaskID(rec)), asynq.MaxRetry(5)), nil
}

// ParseSessionPersistPayload 解析任务 payload
func ParseSessionPersistPayload(data []byte) (*SessionPersistPayload, error) {
	var p SessionPersistPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	if p.Session.RoomID == "" {
		return nil, fmt.Errorf("session payload without room id")
	}
	return &p, nil
}

// NewInactivitySweepTask 创建不活跃清理任务，payload 为空
func NewInactivitySweepTask() *asynq.Task {
	return asynq.NewTask(TypeInactivitySweep, nil)
}
