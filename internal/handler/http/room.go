package http

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"collab-presence/internal/domain"
	"collab-presence/internal/repository"
	"collab-presence/internal/service"
)

// RoomHandler 封装了房间在线状态查询的 HTTP 处理逻辑
type RoomHandler struct {
	roomService *service.RoomService
}

// NewRoomHandler 创建 RoomHandler 实例
func NewRoomHandler(roomService *service.RoomService) *RoomHandler {
	if roomService == nil {
		panic("RoomService cannot be nil for RoomHandler")
	}
	return &RoomHandler{roomService: roomService}
}

// MembersResponse 是在场成员查询的响应结构体
type MembersResponse struct {
	RoomID  string                 `json:"roomId"`
	Members []domain.MemberSummary `json:"members"`
}

// GetMembers 处理 GET /api/rooms/:roomId/members
func (h *RoomHandler) GetMembers(c *gin.Context) {
	roomID := strings.TrimSpace(c.Param("roomId"))
	members, err := h.roomService.PresentMembers(c.Request.Context(), roomID)
	if err != nil {
		logrus.WithField("room_id", roomID).WithError(err).Debug("Handler.GetMembers: lookup failed")
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, MembersResponse{RoomID: roomID, Members: members})
}

// HistoryHandler 提供会话历史查询，仅在配置了数据库时注册
type HistoryHandler struct {
	historyRepo repository.HistoryRepository
}

func NewHistoryHandler(historyRepo repository.HistoryRepository) *HistoryHandler {
	if historyRepo == nil {
		panic("HistoryRepository cannot be nil for HistoryHandler")
	}
	return &HistoryHandler{historyRepo: historyRepo}
}

// SessionView 是单条会话历史的响应结构体
type SessionView struct {
	RoomID       string   `json:"roomId"`
	Participants []string `json:"participants"`
	Language     string   `json:"language,omitempty"`
	Reason       string   `json:"reason"`
	StartedAt    string   `json:"startedAt"`
	EndedAt      string   `json:"endedAt"`
}

// ListSessions 处理 GET /api/members/:memberId/sessions?limit=
func (h *HistoryHandler) ListSessions(c *gin.Context) {
	memberID := strings.TrimSpace(c.Param("memberId"))
	if memberID == "" {
		HandleServiceError(c, service.ErrInvalidMember)
		return
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 || n > 100 {
			ErrorResponse(c, http.StatusBadRequest, "limit must be between 0 and 100")
			return
		}
		limit = n
	}

	rows, err := h.historyRepo.FindByMember(c.Request.Context(), memberID, limit)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	views := make([]SessionView, 0, len(rows))
	for _, r := range rows {
		views = append(views, SessionView{
			RoomID:       r.RoomID,
			Participants: strings.Split(r.Participants, ","),
			Language:     r.Language,
			Reason:       r.Reason,
			StartedAt:    r.StartedAt.UTC().Format(time.RFC3339),
			EndedAt:      r.EndedAt.UTC().Format(time.RFC3339),
		})
	}
	SuccessResponse(c, http.StatusOK, gin.H{"memberId": memberID, "sessions": views})
}
