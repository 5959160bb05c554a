package worker

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"collab-presence/internal/repository"
	"collab-presence/internal/tasks"
)

// SessionPersistenceHandler 处理会话持久化任务
type SessionPersistenceHandler struct {
	historyRepo repository.HistoryRepository
}

// NewSessionPersistenceHandler 创建 Handler 实例
func NewSessionPersistenceHandler(historyRepo repository.HistoryRepository) *SessionPersistenceHandler {
	if historyRepo == nil {
		panic("HistoryRepository cannot be nil for SessionPersistenceHandler")
	}
	return &SessionPersistenceHandler{historyRepo: historyRepo}
}

// ProcessTask 实现 asynq.Handler 接口
func (h *SessionPersistenceHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	taskID := ""
	if rw := t.ResultWriter(); rw != nil {
		taskID = rw.TaskID()
	}
	currentRetry, _ := asynq.GetRetryCount(ctx)

	logCtx := logrus.WithFields(logrus.Fields{
		"task_id":   taskID,
		"task_type": t.Type(),
		"retry":     currentRetry,
	})

	payload, err := tasks.ParseSessionPersistPayload(t.Payload())
	if err != nil {
		logCtx.WithError(err).Error("Failed to unmarshal task payload")
		return fmt.Errorf("failed to unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}
	session := payload.Session
	logCtx = logCtx.WithFields(logrus.Fields{"room_id": session.RoomID, "reason": session.Reason})

	rows := session.HistoryRows()
	if len(rows) == 0 {
		logCtx.Info("Session without participants, nothing to persist")
		return nil
	}
	if err := h.historyRepo.SaveSessionHistory(ctx, rows); err != nil {
		logCtx.WithError(err).Error("Failed to save session history")
		return fmt.Errorf("failed to save session history for room %s: %w", session.RoomID, err)
	}

	logCtx.WithField("rows", len(rows)).Info("Session history persisted")
	return nil
}
