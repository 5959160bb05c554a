package websocket

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"collab-presence/internal/hub"
)

// maxIDLength 限制房间和成员 ID 的长度
const maxIDLength = 128

// WebSocketHandler 负责处理 WebSocket 升级请求和客户端注册
type WebSocketHandler struct {
	upgrader websocket.Upgrader
	hub      *hub.Hub
}

// NewWebSocketHandler 创建 WebSocketHandler 实例。
// allowedOrigin 为空或 "*" 时不检查来源。
func NewWebSocketHandler(h *hub.Hub, allowedOrigin string) *WebSocketHandler {
	if h == nil {
		panic("Hub cannot be nil for WebSocketHandler")
	}
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigin),
	}
	return &WebSocketHandler{upgrader: upgrader, hub: h}
}

func originChecker(allowed string) func(r *http.Request) bool {
	allowed = strings.TrimRight(strings.TrimSpace(allowed), "/")
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if allowed == "" || allowed == "*" || origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return strings.EqualFold(u.Scheme+"://"+u.Host, allowed)
	}
}

func validID(id string) bool {
	return id != "" && len(id) <= maxIDLength
}

// HandleConnection 处理 WebSocket 连接请求
// URL 预期格式: /ws/rooms/{roomId}?memberId=...&displayName=...
func (h *WebSocketHandler) HandleConnection(c *gin.Context) {
	roomID := strings.TrimSpace(c.Param("roomId"))
	memberID := strings.TrimSpace(c.Query("memberId"))
	displayName := strings.TrimSpace(c.Query("displayName"))
	logCtx := logrus.WithFields(logrus.Fields{"room_id": roomID, "member_id": memberID})

	// 1. 升级前校验参数，此时还能返回 HTTP 错误
	if !validID(roomID) {
		logCtx.Warn("WS Handler: Invalid room ID")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid room ID"})
		return
	}
	if !validID(memberID) {
		logCtx.Warn("WS Handler: Invalid member ID")
		c.JSON(http.StatusBadRequest, gin.H{"error": "memberId is required"})
		return
	}
	if displayName == "" {
		displayName = memberID
	}

	// 2. 升级 HTTP 连接到 WebSocket
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade 已经写回了 HTTP 错误响应
		logCtx.WithError(err).Error("WS Handler: Failed to upgrade connection")
		return
	}

	// 3. 注册到 Hub，然后启动读写 goroutine
	client := hub.NewClient(h.hub, conn, roomID, memberID, displayName)
	if !h.hub.Register(client) {
		logCtx.Error("WS Handler: Hub message channel full, failed to register client")
		client.CloseConn()
		return
	}
	client.Run()
	logCtx.WithField("conn_id", client.ConnID()).Info("WS Handler: Client connected")
}
