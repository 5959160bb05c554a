package http_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"collab-presence/internal/domain"
	httpHandler "collab-presence/internal/handler/http"
	memorystate "collab-presence/internal/infra/state/memory"
	"collab-presence/internal/repository/mocks"
	"collab-presence/internal/service"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func seed(t *testing.T, store *memorystate.PresenceStore, roomID, memberID string, state domain.ConnectionState, joined time.Time) {
	t.Helper()
	require.NoError(t, store.UpsertMember(context.Background(), roomID, memberID, domain.MemberFields{
		DisplayName:    domain.Ptr(memberID),
		State:          domain.Ptr(state),
		JoinedAt:       domain.Ptr(joined),
		LastActivityAt: domain.Ptr(joined),
	}))
}

func newRouter(store *memorystate.PresenceStore) *gin.Engine {
	router := gin.New()
	h := httpHandler.NewRoomHandler(service.NewRoomService(store))
	router.GET("/api/rooms/:roomId/members", h.GetMembers)
	return router
}

func TestRoomHandler_GetMembers(t *testing.T) {
	store := memorystate.NewPresenceStore()
	now := time.Now()
	seed(t, store, "r1", "alice", domain.StateConnected, now.Add(-2*time.Minute))
	seed(t, store, "r1", "bob", domain.StateGracePeriod, now.Add(-time.Minute))
	seed(t, store, "r1", "carol", domain.StateConfirmedDisconnected, now)

	w := httptest.NewRecorder()
	newRouter(store).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/rooms/r1/members", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var resp httpHandler.MembersResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "r1", resp.RoomID)
	require.Len(t, resp.Members, 2)
	assert.Equal(t, "alice", resp.Members[0].MemberID)
	assert.Equal(t, "bob", resp.Members[1].MemberID)
}

func TestRoomHandler_GetMembers_NotFound(t *testing.T) {
	store := memorystate.NewPresenceStore()
	seed(t, store, "gone", "alice", domain.StateConfirmedDisconnected, time.Now())
	router := newRouter(store)

	for _, path := range []string{"/api/rooms/missing/members", "/api/rooms/gone/members"} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusNotFound, w.Code, path)
	}
}

func TestHistoryHandler_ListSessions(t *testing.T) {
	repo := mocks.NewHistoryRepository(t)
	router := gin.New()
	router.GET("/api/members/:memberId/sessions", httpHandler.NewHistoryHandler(repo).ListSessions)

	start := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	repo.On("FindByMember", mock.Anything, "alice", 5).Return([]domain.SessionHistory{{
		RoomID:       "r1",
		MemberID:     "alice",
		Participants: "alice,bob",
		Language:     "go",
		Reason:       domain.EndReasonInactivity,
		StartedAt:    start,
		EndedAt:      start.Add(time.Hour),
	}}, nil).Once()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/members/alice/sessions?limit=5", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		MemberID string                    `json:"memberId"`
		Sessions []httpHandler.SessionView `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Sessions, 1)
	assert.Equal(t, []string{"alice", "bob"}, body.Sessions[0].Participants)
	assert.Equal(t, "2024-03-01T08:00:00Z", body.Sessions[0].StartedAt)
}

func TestHistoryHandler_Errors(t *testing.T) {
	repo := mocks.NewHistoryRepository(t)
	router := gin.New()
	router.GET("/api/members/:memberId/sessions", httpHandler.NewHistoryHandler(repo).ListSessions)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/members/alice/sessions?limit=abc", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	repo.On("FindByMember", mock.Anything, "bob", 0).Return(nil, errors.New("db down")).Once()
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/members/bob/sessions", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
