package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"collab-presence/internal/domain"
	"collab-presence/internal/tasks"
)

// Enqueuer is the part of *asynq.Client used by TaskPersister.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// TaskPersister 把会话记录交给 asynq 异步持久化。
// 任务 ID 由房间和会话开始时间决定，多个进程重复提交同一会话时只有第一次入队成功。
type TaskPersister struct {
	client Enqueuer
	queue  string
}

func NewTaskPersister(client Enqueuer) *TaskPersister {
	if client == nil {
		panic("asynq client cannot be nil for TaskPersister")
	}
	return &TaskPersister{client: client, queue: "default"}
}

func (p *TaskPersister) PersistSession(ctx context.Context, rec domain.SessionRecord) error {
	logCtx := logrus.WithFields(logrus.Fields{"room_id": rec.RoomID, "reason": rec.Reason})

	task, err := tasks.NewSessionPersistTask(rec)
	if err != nil {
		return fmt.Errorf("failed to build session task for room %s: %w", rec.RoomID, err)
	}
	info, err := p.client.EnqueueContext(ctx, task, asynq.Queue(p.queue))
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
			logCtx.Debug("Session already queued by another process")
			return nil
		}
		return fmt.Errorf("failed to enqueue session task for room %s: %w", rec.RoomID, err)
	}
	logCtx.WithField("task_id", info.ID).Info("Session persistence task enqueued")
	return nil
}
