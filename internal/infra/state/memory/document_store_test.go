package memorystate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collab-presence/internal/domain"
	"collab-presence/internal/repository"
)

func TestDocumentStore(t *testing.T) {
	s := NewDocumentStore()
	ctx := context.Background()

	_, err := s.Get(ctx, "r1")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	require.NoError(t, s.Update(ctx, "r1", domain.DocumentSnapshot{Code: "a"}))
	require.NoError(t, s.Update(ctx, "r1", domain.DocumentSnapshot{Code: "b", Language: "go"}))

	doc, err := s.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "b", doc.Code)

	final, err := s.Release(ctx, "r1")
	require.NoError(t, err)
	require.NotNil(t, final)
	assert.Equal(t, "go", final.Language)

	final, err = s.Release(ctx, "r1")
	require.NoError(t, err)
	assert.Nil(t, final)
}
