package hub

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"collab-presence/internal/domain"
	"collab-presence/internal/fanout"
	"collab-presence/internal/repository"
	"collab-presence/internal/service"
)

// 包级别的 WebSocket 常量，供 hub 和 client 包内使用
const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. codeUpdate 帧带着整个文档。
	maxMessageSize = domain.MaxCodeSize + 4096

	// opTimeout 限制 Hub 循环中每次 Controller 调用的耗时
	opTimeout = 5 * time.Second
)

// 消息类型
const (
	msgRegister   = "register"
	msgUnregister = "unregister"
	msgInbound    = "inbound"
)

// HubMessage 定义了在 Hub 内部通道传递的消息类型
type HubMessage struct {
	Type    string  // "register", "unregister", "inbound"
	Client  *Client // 消息关联的客户端
	RawData []byte  // 仅用于 inbound (原始 WebSocket 消息)
}

// Controller 是 Hub 依赖的房间生命周期操作，由 service.LifecycleService 实现。
type Controller interface {
	Join(ctx context.Context, roomID, memberID, displayName, socketRef string) (*service.JoinResult, error)
	Disconnect(ctx context.Context, roomID, memberID, socketRef string, immediate bool) error
	Heartbeat(ctx context.Context, roomID, memberID string) error
}

// Hub 维护本进程的活跃客户端集合，并把 socket 事件转换为生命周期调用。
// 跨进程的事件通过 fanout.Bridge 送达 Deliver。
type Hub struct {
	// 内部通道，处理所有来自 Client 的事件
	messageChan chan HubMessage
	done        chan struct{}
	stopOnce    sync.Once

	// map[roomID]map[*Client]bool
	rooms map[string]map[*Client]bool
	// 保护 rooms map 以及 Client.closed 的读写锁
	roomsMu sync.RWMutex

	controller Controller
	bridge     fanout.Bridge
	docs       repository.DocumentStore // 可以为 nil，此时 codeUpdate 只转发不缓存
}

// NewHub 创建并返回一个新的 Hub 实例
func NewHub(controller Controller, bridge fanout.Bridge, docs repository.DocumentStore) *Hub {
	if controller == nil {
		panic("Controller cannot be nil for Hub")
	}
	if bridge == nil {
		panic("Bridge cannot be nil for Hub")
	}
	return &Hub{
		messageChan: make(chan HubMessage, 512),
		done:        make(chan struct{}),
		rooms:       make(map[string]map[*Client]bool),
		controller:  controller,
		bridge:      bridge,
		docs:        docs,
	}
}

// Run 启动 Hub 的主事件处理循环，应该在一个单独的 goroutine 中运行。
// 同一进程内的 socket 事件按到达顺序依次处理。
func (h *Hub) Run() {
	log := logrus.WithField("component", "hub")
	log.Info("Hub is running...")

	for {
		select {
		case <-h.done:
			log.Info("Hub is shutting down...")
			return
		case msg := <-h.messageChan:
			switch msg.Type {
			case msgRegister:
				h.registerClient(msg.Client)
			case msgUnregister:
				h.unregisterClient(msg.Client)
			case msgInbound:
				h.handleInbound(msg.Client, msg.RawData)
			default:
				log.Warnf("Hub: Received unknown message type: %s", msg.Type)
			}
		}
	}
}

// Stop 停止事件循环并关闭所有本地连接。不会触发 Disconnect：
// 其他进程会在宽限期或不活跃清理中处理这些成员。
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.roomsMu.Lock()
		for roomID, clients := range h.rooms {
			for c := range clients {
				h.closeSendLocked(c)
			}
			delete(h.rooms, roomID)
		}
		h.roomsMu.Unlock()
	})
}

func (h *Hub) opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), opTimeout)
}

// registerClient 处理客户端注册：加入本地房间、按需订阅房间频道，然后调用 Join。
func (h *Hub) registerClient(client *Client) {
	if client == nil {
		logrus.Error("Hub: Attempted to register a nil client")
		return
	}
	logCtx := client.logCtx().WithField("action", "registerClient")

	h.roomsMu.Lock()
	clients, ok := h.rooms[client.roomID]
	if !ok {
		clients = make(map[*Client]bool)
		h.rooms[client.roomID] = clients
	}
	clients[client] = true
	first := len(clients) == 1
	h.roomsMu.Unlock()

	ctx, cancel := h.opContext()
	defer cancel()

	if first {
		if err := h.bridge.Subscribe(ctx, client.roomID); err != nil {
			// 桥接层自己会降级为本地投递，这里只记录
			logCtx.WithError(err).Warn("Failed to subscribe room channel")
		}
	}

	result, err := h.controller.Join(ctx, client.roomID, client.memberID, client.displayName, client.connID)
	if err != nil {
		logCtx.WithError(err).Error("Join failed, closing connection")
		h.sendError(client, joinErrorMessage(err))
		h.removeClient(client)
		return
	}
	logCtx.WithFields(logrus.Fields{
		"previous_state": result.Previous,
		"existing":       len(result.Existing),
	}).Info("Client registered to Hub")
}

func joinErrorMessage(err error) string {
	switch {
	case errors.Is(err, service.ErrInvalidRoom):
		return "invalid room id"
	case errors.Is(err, service.ErrInvalidMember):
		return "invalid member id"
	default:
		return "failed to join room"
	}
}

// unregisterClient 处理传输层断开：进入宽限期，最后一个本地连接离开时取消订阅。
func (h *Hub) unregisterClient(client *Client) {
	if client == nil {
		logrus.Error("Hub: Attempted to unregister a nil client")
		return
	}
	logCtx := client.logCtx().WithField("action", "unregisterClient")
	if !h.removeClient(client) {
		// 已被驱逐或注册失败的客户端，读泵退出时会再次走到这里
		logCtx.Debug("Client already removed from Hub")
		return
	}

	ctx, cancel := h.opContext()
	defer cancel()
	if err := h.controller.Disconnect(ctx, client.roomID, client.memberID, client.connID, false); err != nil {
		logCtx.WithError(err).Warn("Disconnect failed")
	}
	logCtx.Info("Client unregistered from Hub")
}

// removeClient 从本地房间移除客户端并关闭其 send 通道。
// 返回 false 表示客户端已不在房间中。
func (h *Hub) removeClient(client *Client) bool {
	h.roomsMu.Lock()
	clients, ok := h.rooms[client.roomID]
	if !ok || !clients[client] {
		h.roomsMu.Unlock()
		return false
	}
	delete(clients, client)
	h.closeSendLocked(client)
	last := len(clients) == 0
	if last {
		delete(h.rooms, client.roomID)
	}
	h.roomsMu.Unlock()

	if last {
		ctx, cancel := h.opContext()
		defer cancel()
		if err := h.bridge.Unsubscribe(ctx, client.roomID); err != nil {
			client.logCtx().WithError(err).Warn("Failed to unsubscribe room channel")
		}
	}
	return true
}

// closeSendLocked 关闭 send 通道，调用方必须持有 roomsMu 写锁
func (h *Hub) closeSendLocked(c *Client) {
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// handleInbound 解码并处理客户端帧，非法帧只回复 error 事件。
func (h *Hub) handleInbound(client *Client, raw []byte) {
	logCtx := client.logCtx().WithField("action", "handleInbound")
	if !h.isRegistered(client) {
		logCtx.Debug("Dropping frame from client no longer in Hub")
		return
	}

	in, err := domain.ParseInbound(raw)
	if err != nil {
		logCtx.WithError(err).Debug("Rejected inbound frame")
		h.sendError(client, err.Error())
		return
	}

	ctx, cancel := h.opContext()
	defer cancel()

	switch in.Event {
	case domain.InboundHeartbeat:
		if err := h.controller.Heartbeat(ctx, client.roomID, client.memberID); err != nil {
			logCtx.WithError(err).Warn("Heartbeat failed")
		}
	case domain.InboundExplicitLeave:
		if err := h.controller.Disconnect(ctx, client.roomID, client.memberID, client.connID, true); err != nil {
			logCtx.WithError(err).Warn("Explicit leave failed")
		}
		// 已离开的连接不再接收或发送房间事件，读泵退出时 unregister 不会重复断开
		h.removeClient(client)
	case domain.InboundCodeUpdate:
		h.relayCode(ctx, client, in)
	}
}

// relayCode 缓存最新文档并转发给房间内其他成员，同时视为一次活动。
func (h *Hub) relayCode(ctx context.Context, client *Client, in domain.Inbound) {
	logCtx := client.logCtx().WithField("action", "relayCode")
	if h.docs != nil {
		snap := domain.DocumentSnapshot{
			Code:      in.Code,
			Language:  in.Language,
			UpdatedBy: client.memberID,
			UpdatedAt: time.Now(),
		}
		if err := h.docs.Update(ctx, client.roomID, snap); err != nil {
			logCtx.WithError(err).Warn("Failed to cache room document")
		}
	}
	if err := h.controller.Heartbeat(ctx, client.roomID, client.memberID); err != nil {
		logCtx.WithError(err).Warn("Failed to refresh activity on code update")
	}

	env, err := domain.NewEnvelope(client.roomID, domain.CodeUpdate{
		MemberID: client.memberID,
		Code:     in.Code,
		Language: in.Language,
	})
	if err != nil {
		logCtx.WithError(err).Error("Failed to build codeUpdate envelope")
		return
	}
	if err := h.bridge.Publish(ctx, env.Excluding(client.memberID)); err != nil {
		logCtx.WithError(err).Warn("Failed to publish codeUpdate")
	}
}

func (h *Hub) isRegistered(c *Client) bool {
	h.roomsMu.RLock()
	defer h.roomsMu.RUnlock()
	return h.rooms[c.roomID][c]
}

// Deliver 实现 fanout.Deliverer：把信封写入本进程中目标房间的 socket。
// 收到 inactiveTimeout 的客户端随后会被断开。
func (h *Hub) Deliver(env domain.Envelope) {
	frame, err := env.Frame()
	if err != nil {
		logrus.WithError(err).WithField("room_id", env.RoomID).Error("Failed to encode frame")
		return
	}

	var evict []*Client
	h.roomsMu.RLock()
	for client := range h.rooms[env.RoomID] {
		if client.closed || !env.DeliverableTo(client.memberID) {
			continue
		}
		// 非阻塞发送，慢客户端不会阻塞投递
		select {
		case client.send <- frame:
			if env.Event == domain.EventInactiveTimeout {
				evict = append(evict, client)
			}
		default:
			client.logCtx().WithField("event", env.Event).Warn("Client send channel full, dropping event")
		}
	}
	h.roomsMu.RUnlock()

	for _, c := range evict {
		h.QueueMessage(HubMessage{Type: msgUnregister, Client: c})
	}
}

// sendError 向单个客户端发送 error 事件
func (h *Hub) sendError(client *Client, message string) {
	env, err := domain.NewEnvelope(client.roomID, domain.ErrorNotice{Message: message})
	if err != nil {
		return
	}
	frame, err := env.Frame()
	if err != nil {
		return
	}
	h.roomsMu.RLock()
	defer h.roomsMu.RUnlock()
	if client.closed {
		return
	}
	select {
	case client.send <- frame:
	default:
	}
}

// LocalClients 返回本进程中某房间的连接数
func (h *Hub) LocalClients(roomID string) int {
	h.roomsMu.RLock()
	defer h.roomsMu.RUnlock()
	return len(h.rooms[roomID])
}

// ClientCount 返回本进程的连接总数
func (h *Hub) ClientCount() int {
	h.roomsMu.RLock()
	defer h.roomsMu.RUnlock()
	n := 0
	for _, clients := range h.rooms {
		n += len(clients)
	}
	return n
}

// --- 公共方法 ---

// QueueMessage 将消息放入 Hub 的处理队列 (非阻塞)。
// 返回 true 如果消息成功入队，false 如果队列已满。
func (h *Hub) QueueMessage(msg HubMessage) bool {
	select {
	case h.messageChan <- msg:
		return true
	default:
		fields := logrus.Fields{"message_type": msg.Type}
		if msg.Client != nil {
			fields["room_id"] = msg.Client.roomID
			fields["member_id"] = msg.Client.memberID
		}
		logrus.WithFields(fields).Warn("Hub message channel full, dropping message")
		return false
	}
}

// Register 把新连接交给 Hub 处理
func (h *Hub) Register(c *Client) bool {
	return h.QueueMessage(HubMessage{Type: msgRegister, Client: c})
}
