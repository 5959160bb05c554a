package worker_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collab-presence/internal/tasks"
	"collab-presence/internal/worker"
)

// fakeEnqueuer 模拟 asynq 对任务 ID 的去重
type fakeEnqueuer struct {
	seen map[string]bool
	err  error
}

func (f *fakeEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	var id string
	for _, o := range opts {
		if o.Type() == asynq.TaskIDOpt {
			id = o.Value().(string)
		}
	}
	if id == "" {
		// NewSessionPersistTask 把 TaskID 作为任务的默认选项
		payload, err := tasks.ParseSessionPersistPayload(task.Payload())
		if err != nil {
			return nil, err
		}
		id = tasks.SessionTaskID(payload.Session)
	}
	if f.seen[id] {
		return nil, fmt.Errorf("enqueue: %w", asynq.ErrTaskIDConflict)
	}
	f.seen[id] = true
	return &asynq.TaskInfo{ID: id, Type: task.Type()}, nil
}

func TestTaskPersister_DuplicateSessionIsAccepted(t *testing.T) {
	enq := &fakeEnqueuer{seen: map[string]bool{}}
	p := worker.NewTaskPersister(enq)
	rec := sampleSession()

	require.NoError(t, p.PersistSession(context.Background(), rec))
	// 另一个进程提交同一会话
	require.NoError(t, p.PersistSession(context.Background(), rec))
	assert.Len(t, enq.seen, 1)
}

func TestTaskPersister_EnqueueError(t *testing.T) {
	p := worker.NewTaskPersister(&fakeEnqueuer{err: errors.New("redis unavailable")})
	err := p.PersistSession(context.Background(), sampleSession())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "room-1")
}
