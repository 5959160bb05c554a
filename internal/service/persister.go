package service

import (
	"context"

	"github.com/sirupsen/logrus"

	"collab-presence/internal/domain"
)

// SessionPersister receives the final record of a torn-down room, exactly once per teardown.
// Failures are logged by the caller and never retried by the lifecycle.
type SessionPersister interface {
	PersistSession(ctx context.Context, record domain.SessionRecord) error
}

// LogPersister writes session records to the log. Used when no database is configured.
type LogPersister struct {
	log *logrus.Entry
}

func NewLogPersister(logger *logrus.Logger) *LogPersister {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &LogPersister{log: logger.WithField("component", "session_persister")}
}

func (p *LogPersister) PersistSession(_ context.Context, record domain.SessionRecord) error {
	fields := logrus.Fields{
		"room_id":      record.RoomID,
		"participants": record.ParticipantIDs,
		"reason":       record.Reason,
		"duration":     record.EndedAt.Sub(record.CreatedAt).String(),
	}
	if record.Snapshot != nil {
		fields["language"] = record.Snapshot.Language
		fields["code_size"] = len(record.Snapshot.Code)
	}
	p.log.WithFields(fields).Info("Session ended")
	return nil
}
