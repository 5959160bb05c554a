package memorystate

import (
	"context"
	"sync"

	"collab-presence/internal/domain"
	"collab-presence/internal/repository"
)

// DocumentStore keeps the latest document snapshot per room in process memory.
type DocumentStore struct {
	mu   sync.RWMutex
	docs map[string]domain.DocumentSnapshot
}

func NewDocumentStore() *DocumentStore {
	return &DocumentStore{docs: make(map[string]domain.DocumentSnapshot)}
}

func (s *DocumentStore) Update(_ context.Context, roomID string, snapshot domain.DocumentSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[roomID] = snapshot
	return nil
}

func (s *DocumentStore) Get(_ context.Context, roomID string) (*domain.DocumentSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[roomID]
	if !ok {
		return nil, repository.ErrDocumentNotFound
	}
	return &doc, nil
}

func (s *DocumentStore) Release(_ context.Context, roomID string) (*domain.DocumentSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[roomID]
	if !ok {
		return nil, nil
	}
	delete(s.docs, roomID)
	return &doc, nil
}
