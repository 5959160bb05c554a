package worker_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"collab-presence/internal/domain"
	"collab-presence/internal/repository/mocks"
	"collab-presence/internal/service"
	"collab-presence/internal/tasks"
	"collab-presence/internal/worker"
)

func sampleSession() domain.SessionRecord {
	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	return domain.SessionRecord{
		RoomID:         "room-1",
		ParticipantIDs: []string{"alice", "bob"},
		Snapshot:       &domain.DocumentSnapshot{Code: "print(1)", Language: "python"},
		Reason:         domain.EndReasonAllDisconnected,
		CreatedAt:      start,
		EndedAt:        start.Add(30 * time.Minute),
	}
}

func TestSessionPersistenceHandler_SavesRows(t *testing.T) {
	repo := mocks.NewHistoryRepository(t)
	handler := worker.NewSessionPersistenceHandler(repo)

	task, err := tasks.NewSessionPersistTask(sampleSession())
	require.NoError(t, err)

	repo.On("SaveSessionHistory", mock.Anything, mock.MatchedBy(func(rows []domain.SessionHistory) bool {
		return len(rows) == 2 && rows[0].MemberID == "alice" && rows[1].Code == "print(1)"
	})).Return(nil).Once()

	assert.NoError(t, handler.ProcessTask(context.Background(), task))
}

func TestSessionPersistenceHandler_BadPayloadSkipsRetry(t *testing.T) {
	repo := mocks.NewHistoryRepository(t)
	handler := worker.NewSessionPersistenceHandler(repo)

	err := handler.ProcessTask(context.Background(), asynq.NewTask(tasks.TypeSessionPersist, []byte("{not json")))
	require.Error(t, err)
	assert.ErrorIs(t, err, asynq.SkipRetry)
	repo.AssertNotCalled(t, "SaveSessionHistory", mock.Anything, mock.Anything)
}

func TestSessionPersistenceHandler_RepositoryErrorRetries(t *testing.T) {
	repo := mocks.NewHistoryRepository(t)
	handler := worker.NewSessionPersistenceHandler(repo)
	task, err := tasks.NewSessionPersistTask(sampleSession())
	require.NoError(t, err)

	dbErr := errors.New("connection refused")
	repo.On("SaveSessionHistory", mock.Anything, mock.Anything).Return(dbErr).Once()

	err = handler.ProcessTask(context.Background(), task)
	require.Error(t, err)
	assert.ErrorIs(t, err, dbErr)
	assert.NotErrorIs(t, err, asynq.SkipRetry)
}

func TestSessionPersistenceHandler_EmptySession(t *testing.T) {
	repo := mocks.NewHistoryRepository(t)
	handler := worker.NewSessionPersistenceHandler(repo)
	rec := sampleSession()
	rec.ParticipantIDs = nil
	task, err := tasks.NewSessionPersistTask(rec)
	require.NoError(t, err)

	assert.NoError(t, handler.ProcessTask(context.Background(), task))
}

type stubSweeper struct {
	report service.SweepReport
	ran    bool
	err    error
	calls  int
}

func (s *stubSweeper) RunOnce(context.Context) (service.SweepReport, bool, error) {
	s.calls++
	return s.report, s.ran, s.err
}

func TestSweepHandler(t *testing.T) {
	t.Run("runs one pass", func(t *testing.T) {
		sw := &stubSweeper{ran: true, report: service.SweepReport{RoomsScanned: 3, Errors: 1}}
		err := worker.NewSweepHandler(sw).ProcessTask(context.Background(), tasks.NewInactivitySweepTask())
		assert.NoError(t, err)
		assert.Equal(t, 1, sw.calls)
	})

	t.Run("overlapping pass is not an error", func(t *testing.T) {
		sw := &stubSweeper{ran: false}
		assert.NoError(t, worker.NewSweepHandler(sw).ProcessTask(context.Background(), tasks.NewInactivitySweepTask()))
	})

	t.Run("aborted pass is not retried", func(t *testing.T) {
		sw := &stubSweeper{ran: true, err: errors.New("redis down")}
		err := worker.NewSweepHandler(sw).ProcessTask(context.Background(), tasks.NewInactivitySweepTask())
		assert.ErrorIs(t, err, asynq.SkipRetry)
	})
}
