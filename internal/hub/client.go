package hub

import (
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Client 代表一个连接到 Hub 的 WebSocket 客户端。
type Client struct {
	hub         *Hub
	conn        *websocket.Conn
	connID      string // 本次连接的唯一标识，作为成员记录的 SocketRef
	roomID      string
	memberID    string
	displayName string
	send        chan []byte // 用于向此客户端发送消息的缓冲通道
	closed      bool        // send 已关闭，受 hub.roomsMu 保护
}

// NewClient 创建一个新的 Client 实例
func NewClient(hub *Hub, conn *websocket.Conn, roomID, memberID, displayName string) *Client {
	return &Client{
		hub:         hub,
		conn:        conn,
		connID:      uuid.NewString(),
		roomID:      roomID,
		memberID:    memberID,
		displayName: displayName,
		send:        make(chan []byte, 256),
	}
}

// Run 启动客户端的读写 goroutine
func (c *Client) Run() {
	go c.WritePump()
	go c.ReadPump()
}

func (c *Client) logCtx() *logrus.Entry {
	return logrus.WithFields(logrus.Fields{
		"room_id":   c.roomID,
		"member_id": c.memberID,
		"conn_id":   c.connID,
	})
}

// ReadPump 将消息从 WebSocket 连接泵送到 Hub。
// 退出时向 Hub 发送 unregister，这就是传输层断开事件。
func (c *Client) ReadPump() {
	defer func() {
		if !c.hub.QueueMessage(HubMessage{Type: msgUnregister, Client: c}) {
			c.logCtx().Warn("Failed to queue unregister message")
		}
		c.conn.Close()
		c.logCtx().Debug("readPump exited")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.logCtx().WithError(err).Warn("WebSocket read error (unexpected close)")
			} else {
				c.logCtx().Debug("WebSocket connection closed")
			}
			break
		}

		// 只处理文本消息
		if messageType != websocket.TextMessage {
			c.logCtx().Debugf("Received non-text message type: %d", messageType)
			continue
		}
		if !c.hub.QueueMessage(HubMessage{Type: msgInbound, Client: c, RawData: message}) {
			c.logCtx().Warn("Hub message channel full, dropping client message")
		}
	}
}

// WritePump 将消息从 send 通道泵送到 WebSocket 连接，并定期发送 Ping。
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.logCtx().Debug("writePump exited")
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub 关闭了 send 通道 (注销、驱逐或关闭)
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logCtx().WithError(err).Warn("Failed to write message to websocket")
				return
			}
			_ = c.conn.SetWriteDeadline(time.Time{})

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logCtx().WithError(err).Warn("Failed to send ping message")
				return
			}
			_ = c.conn.SetWriteDeadline(time.Time{})
		}
	}
}

func (c *Client) RoomID() string   { return c.roomID }
func (c *Client) MemberID() string { return c.memberID }
func (c *Client) ConnID() string   { return c.connID }
func (c *Client) CloseConn()       { c.conn.Close() }
