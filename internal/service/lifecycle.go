package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"collab-presence/internal/domain"
	"collab-presence/internal/metrics"
	"collab-presence/internal/repository"
	"collab-presence/internal/timer"
)

// maxJoinAttempts bounds Join's read-then-CAS loop against a concurrently firing timer.
const maxJoinAttempts = 3

// confirmTimeout bounds store and fan-out calls made from timer goroutines.
const confirmTimeout = 10 * time.Second

// Publisher is the part of the fan-out bridge the lifecycle needs.
type Publisher interface {
	Publish(ctx context.Context, env domain.Envelope) error
}

// LifecycleConfig holds the timing knobs of the lifecycle.
type LifecycleConfig struct {
	// GracePeriod is how long a dropped connection may be re-established silently.
	GracePeriod time.Duration
	// InactivityThreshold is how long a connected member may stay silent before the sweep removes it.
	InactivityThreshold time.Duration
}

// JoinResult describes the outcome of Join.
type JoinResult struct {
	// Previous is the state before the join, empty when the member was absent.
	Previous domain.ConnectionState
	// Existing lists the other present members, ordered by join time.
	Existing []domain.MemberSummary
}

// SweepReport summarizes one inactivity pass.
type SweepReport struct {
	RoomsScanned     int
	MembersExpired   int
	RoomsEnded       int
	OrphansConfirmed int
	Errors           int
}

// LifecycleService 是房间成员生命周期的控制器：
// 处理加入、断开、宽限期确认、心跳、不活跃清理以及房间销毁。
// 所有状态都保存在 PresenceStore 中，跨进程的竞争通过 UpdateMemberIf (CAS)、InsertMemberIfAbsent 和 DeleteRoomIf 解决。
type LifecycleService struct {
	store     repository.PresenceStore
	docs      repository.DocumentStore
	timers    *timer.Manager
	publisher Publisher
	persister SessionPersister
	cfg       LifecycleConfig
	metrics   *metrics.Metrics
	now       func() time.Time
}

// NewLifecycleService 创建 LifecycleService 实例。docs 和 persister 可以为 nil。
func NewLifecycleService(
	store repository.PresenceStore,
	docs repository.DocumentStore,
	timers *timer.Manager,
	publisher Publisher,
	persister SessionPersister,
	cfg LifecycleConfig,
) *LifecycleService {
	if store == nil {
		panic("PresenceStore cannot be nil for LifecycleService")
	}
	if timers == nil {
		panic("timer.Manager cannot be nil for LifecycleService")
	}
	if publisher == nil {
		panic("Publisher cannot be nil for LifecycleService")
	}
	if cfg.GracePeriod <= 0 {
		panic("GracePeriod must be positive for LifecycleService")
	}
	if cfg.InactivityThreshold <= 0 {
		panic("InactivityThreshold must be positive for LifecycleService")
	}
	return &LifecycleService{
		store:     store,
		docs:      docs,
		timers:    timers,
		publisher: publisher,
		persister: persister,
		cfg:       cfg,
		now:       time.Now,
	}
}

// SetMetrics enables Prometheus instrumentation. Call before serving traffic.
func (s *LifecycleService) SetMetrics(m *metrics.Metrics) { s.metrics = m }

// Config returns the timing configuration.
func (s *LifecycleService) Config() LifecycleConfig { return s.cfg }

func validateIDs(roomID, memberID string) error {
	if strings.TrimSpace(roomID) == "" {
		return ErrInvalidRoom
	}
	if strings.TrimSpace(memberID) == "" {
		return ErrInvalidMember
	}
	return nil
}

// publish builds an envelope for p and hands it to the bridge. Routing is applied by route.
func (s *LifecycleService) publish(ctx context.Context, roomID string, p domain.Payload, route func(domain.Envelope) domain.Envelope) {
	logCtx := logrus.WithFields(logrus.Fields{"room_id": roomID, "event": p.EventName()})
	env, err := domain.NewEnvelope(roomID, p)
	if err != nil {
		logCtx.WithError(err).Error("Failed to build envelope")
		return
	}
	if route != nil {
		env = route(env)
	}
	if err := s.publisher.Publish(ctx, env); err != nil {
		logCtx.WithError(err).Warn("Failed to publish event")
	}
}

func excluding(memberID string) func(domain.Envelope) domain.Envelope {
	return func(e domain.Envelope) domain.Envelope { return e.Excluding(memberID) }
}

func toMember(memberID string) func(domain.Envelope) domain.Envelope {
	return func(e domain.Envelope) domain.Envelope { return e.ToMember(memberID) }
}

// Join 处理成员加入房间 (首次加入或重连)。
//
//	ABSENT                 -> CONNECTED, 广播 memberJoined
//	CONFIRMED_DISCONNECTED -> CONNECTED, 广播 memberReconnected
//	GRACE_PERIOD           -> CONNECTED, 不通知任何人
//	CONNECTED              -> 接管 SocketRef, 不通知任何人
//
// 如果房间里还有其他在场成员，只向加入者发送 existingMembers。
func (s *LifecycleService) Join(ctx context.Context, roomID, memberID, displayName, socketRef string) (*JoinResult, error) {
	if err := validateIDs(roomID, memberID); err != nil {
		return nil, err
	}
	logCtx := logrus.WithFields(logrus.Fields{
		"room_id":    roomID,
		"member_id":  memberID,
		"socket_ref": socketRef,
		"operation":  "Join",
	})

	s.timers.Cancel(timer.Key{RoomID: roomID, MemberID: memberID})

	var previous domain.ConnectionState
	joined := false
	for attempt := 0; attempt < maxJoinAttempts && !joined; attempt++ {
		rec, err := s.store.GetMember(ctx, roomID, memberID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			logCtx.WithError(err).Error("Failed to read membership record")
			return nil, ErrInternalServer
		}
		now := s.now()

		if rec == nil {
			// 并发的首次加入 (例如两个标签页落在不同进程) 只有一个能创建记录并广播
			inserted, err := s.store.InsertMemberIfAbsent(ctx, roomID, memberID, domain.MemberFields{
				DisplayName:    &displayName,
				State:          domain.Ptr(domain.StateConnected),
				LastActivityAt: &now,
				SocketRef:      &socketRef,
				JoinedAt:       &now,
				DisconnectedAt: &time.Time{},
				Inactive:       domain.Ptr(false),
			})
			if err != nil {
				logCtx.WithError(err).Error("Failed to create membership record")
				return nil, ErrInternalServer
			}
			if inserted {
				previous = ""
				joined = true
			}
			continue
		}

		previous = rec.State
		fields := domain.MemberFields{
			State:          domain.Ptr(domain.StateConnected),
			LastActivityAt: &now,
			SocketRef:      &socketRef,
			DisconnectedAt: &time.Time{},
			Inactive:       domain.Ptr(false),
		}
		if displayName != "" {
			fields.DisplayName = &displayName
		}
		// 状态在读取之后可能被定时器或其他进程改变，用 CAS 保证按读到的状态转换
		applied, err := s.store.UpdateMemberIf(ctx, roomID, memberID, domain.InState(rec.State), fields)
		if err != nil {
			logCtx.WithError(err).Error("Failed to update membership record")
			return nil, ErrInternalServer
		}
		joined = applied
	}
	if !joined {
		logCtx.Error("Membership record kept changing during join")
		return nil, ErrInternalServer
	}

	logCtx = logCtx.WithField("previous_state", previous)
	switch previous {
	case "":
		s.metrics.Transition(metrics.TransitionJoined)
		s.publish(ctx, roomID, domain.MemberJoined{MemberID: memberID, DisplayName: displayName}, excluding(memberID))
		logCtx.Info("Member joined room")
	case domain.StateConfirmedDisconnected:
		s.metrics.Transition(metrics.TransitionReconnected)
		s.publish(ctx, roomID, domain.MemberReconnected{MemberID: memberID}, excluding(memberID))
		logCtx.Info("Member reconnected after confirmed disconnect")
	case domain.StateGracePeriod:
		s.metrics.Transition(metrics.TransitionResumed)
		logCtx.Info("Member reconnected within grace period")
	default:
		s.metrics.Transition(metrics.TransitionTakeover)
		logCtx.Info("Member took over its connection")
	}

	members, err := s.store.ListMembers(ctx, roomID)
	if err != nil {
		logCtx.WithError(err).Warn("Failed to list members after join")
		return &JoinResult{Previous: previous, Existing: []domain.MemberSummary{}}, nil
	}
	peers := domain.PresentPeers(members, memberID)
	existing := make([]domain.MemberSummary, 0, len(peers))
	for _, p := range peers {
		existing = append(existing, p.Summary())
	}
	if len(existing) > 0 {
		s.publish(ctx, roomID, domain.ExistingMembers{Members: existing}, toMember(memberID))
	}
	return &JoinResult{Previous: previous, Existing: existing}, nil
}

// Disconnect 处理成员断开。socketRef 不为空时，只有记录仍属于该连接才会生效，
// 这样旧连接在重连之后才到达的断开事件会被忽略。
// immediate 为 true (主动离开) 时跳过宽限期，立即确认。
func (s *LifecycleService) Disconnect(ctx context.Context, roomID, memberID, socketRef string, immediate bool) error {
	if err := validateIDs(roomID, memberID); err != nil {
		return err
	}
	logCtx := logrus.WithFields(logrus.Fields{
		"room_id":    roomID,
		"member_id":  memberID,
		"socket_ref": socketRef,
		"immediate":  immediate,
		"operation":  "Disconnect",
	})

	now := s.now()
	applied, err := s.store.UpdateMemberIf(ctx, roomID, memberID,
		domain.InState(domain.StateConnected).OwnedBy(socketRef),
		domain.MemberFields{
			State:          domain.Ptr(domain.StateGracePeriod),
			SocketRef:      domain.Ptr(""),
			DisconnectedAt: &now,
		})
	if err != nil {
		logCtx.WithError(err).Error("Failed to mark member as disconnecting")
		return ErrInternalServer
	}
	if !applied {
		logCtx.Debug("Disconnect ignored: member absent, not connected, or owned by another socket")
		return nil
	}

	s.metrics.Transition(metrics.TransitionGrace)
	key := timer.Key{RoomID: roomID, MemberID: memberID}
	if immediate {
		s.timers.Cancel(key)
		logCtx.Info("Member left explicitly")
		s.confirm(ctx, roomID, memberID)
		return nil
	}
	s.timers.Arm(key, s.cfg.GracePeriod, s.onGraceExpired)
	logCtx.WithField("grace_period", s.cfg.GracePeriod.String()).Info("Member entered grace period")
	return nil
}

func (s *LifecycleService) onGraceExpired(key timer.Key) {
	ctx, cancel := context.WithTimeout(context.Background(), confirmTimeout)
	defer cancel()
	s.confirm(ctx, key.RoomID, key.MemberID)
}

// confirm 把 GRACE_PERIOD 的成员确认为已断开。只有 CAS 成功的调用者会广播，
// 并在所有成员都已确认断开时销毁房间。
func (s *LifecycleService) confirm(ctx context.Context, roomID, memberID string) {
	logCtx := logrus.WithFields(logrus.Fields{"room_id": roomID, "member_id": memberID, "operation": "confirm"})

	applied, err := s.store.UpdateMemberIf(ctx, roomID, memberID,
		domain.InState(domain.StateGracePeriod),
		domain.MemberFields{State: domain.Ptr(domain.StateConfirmedDisconnected)})
	if err != nil {
		logCtx.WithError(err).Error("Failed to confirm disconnect")
		return
	}
	if !applied {
		logCtx.Debug("Confirmation skipped: member reconnected or already confirmed")
		return
	}
	s.metrics.Transition(metrics.TransitionConfirmed)
	logCtx.Info("Disconnect confirmed")
	s.publish(ctx, roomID, domain.MemberDisconnected{MemberID: memberID}, excluding(memberID))

	members, err := s.store.ListMembers(ctx, roomID)
	if err != nil {
		logCtx.WithError(err).Error("Failed to list members after confirmation")
		return
	}
	if domain.Endable(members) {
		s.teardown(ctx, roomID, domain.EndReasonAllDisconnected)
	}
}

// Heartbeat 刷新已连接成员的 LastActivityAt；房间或成员不存在时什么也不做。
func (s *LifecycleService) Heartbeat(ctx context.Context, roomID, memberID string) error {
	if err := validateIDs(roomID, memberID); err != nil {
		return err
	}
	now := s.now()
	_, err := s.store.UpdateMemberIf(ctx, roomID, memberID,
		domain.InState(domain.StateConnected),
		domain.MemberFields{LastActivityAt: &now})
	if err != nil {
		logrus.WithFields(logrus.Fields{"room_id": roomID, "member_id": memberID}).
			WithError(err).Warn("Failed to record heartbeat")
		return ErrInternalServer
	}
	return nil
}

// SweepInactive 扫描所有房间，移除超过不活跃阈值的已连接成员。
// 单个成员或房间的错误只计数，不会中断整个扫描。
func (s *LifecycleService) SweepInactive(ctx context.Context, now time.Time) (SweepReport, error) {
	var report SweepReport
	rooms, err := s.store.ListRooms(ctx)
	if err != nil {
		return report, err
	}
	for _, roomID := range rooms {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		report.RoomsScanned++
		s.sweepRoom(ctx, roomID, now, &report)
	}
	return report, nil
}

func (s *LifecycleService) sweepRoom(ctx context.Context, roomID string, now time.Time, report *SweepReport) {
	logCtx := logrus.WithFields(logrus.Fields{"room_id": roomID, "operation": "sweep"})

	members, err := s.store.ListMembers(ctx, roomID)
	if err != nil {
		logCtx.WithError(err).Warn("Failed to list members")
		report.Errors++
		return
	}
	if len(members) == 0 {
		// stale index entry
		if _, _, err := s.store.DeleteRoomIf(ctx, roomID, isEmpty); err != nil {
			logCtx.WithError(err).Warn("Failed to drop empty room")
			report.Errors++
		}
		return
	}
	if domain.Endable(members) {
		// teardown was interrupted earlier, e.g. the owning process died
		if s.teardown(ctx, roomID, domain.EndReasonAllDisconnected) {
			report.RoomsEnded++
		}
		return
	}

	for _, m := range members {
		switch {
		case m.State == domain.StateConnected && m.IdleSince(now, s.cfg.InactivityThreshold):
			ended, expired, err := s.expire(ctx, m, now)
			if err != nil {
				logCtx.WithField("member_id", m.MemberID).WithError(err).Warn("Failed to expire inactive member")
				report.Errors++
				continue
			}
			if expired {
				report.MembersExpired++
			}
			if ended {
				report.RoomsEnded++
				return
			}
		case m.State == domain.StateGracePeriod && s.orphaned(m, now):
			// grace timer lived in a process that is gone
			s.confirm(ctx, roomID, m.MemberID)
			report.OrphansConfirmed++
		}
	}
}

func isEmpty(members []domain.MembershipRecord) bool { return len(members) == 0 }

func (s *LifecycleService) orphaned(m domain.MembershipRecord, now time.Time) bool {
	if m.DisconnectedAt.IsZero() {
		return false
	}
	if s.timers.Pending(timer.Key{RoomID: m.RoomID, MemberID: m.MemberID}) {
		return false
	}
	return now.Sub(m.DisconnectedAt) > 2*s.cfg.GracePeriod
}

// expire 将一个不活跃成员标记为已断开。没有其他在场成员时直接结束房间。
func (s *LifecycleService) expire(ctx context.Context, m domain.MembershipRecord, now time.Time) (ended, expired bool, err error) {
	roomID := m.RoomID
	logCtx := logrus.WithFields(logrus.Fields{"room_id": roomID, "member_id": m.MemberID, "operation": "expire"})

	members, err := s.store.ListMembers(ctx, roomID)
	if err != nil {
		return false, false, err
	}
	alone := len(domain.PresentPeers(members, m.MemberID)) == 0

	applied, err := s.store.UpdateMemberIf(ctx, roomID, m.MemberID,
		domain.InState(domain.StateConnected).Untouched(m.LastActivityAt),
		domain.MemberFields{
			State:          domain.Ptr(domain.StateConfirmedDisconnected),
			SocketRef:      domain.Ptr(""),
			DisconnectedAt: &now,
			Inactive:       domain.Ptr(true),
		})
	if err != nil {
		return false, false, err
	}
	if !applied {
		logCtx.Debug("Member became active again, skipping")
		return false, false, nil
	}
	s.metrics.Transition(metrics.TransitionExpired)

	if alone {
		logCtx.Info("Last present member inactive, ending room")
		s.publish(ctx, roomID, domain.RoomEnded{RoomID: roomID}, nil)
		s.teardown(ctx, roomID, domain.EndReasonInactivity)
		return true, true, nil
	}

	logCtx.Info("Member marked inactive")
	s.publish(ctx, roomID, domain.ParticipantLeft{RoomID: roomID, MemberID: m.MemberID, Reason: domain.ReasonInactivity}, excluding(m.MemberID))
	s.publish(ctx, roomID, domain.InactiveTimeout{RoomID: roomID}, toMember(m.MemberID))
	return false, true, nil
}

// teardown 销毁房间。删除前在存储内重新检查所有成员都已确认断开，
// 期间有人加入或重连时放弃销毁。DeleteRoomIf 返回 true 的调用者才继续执行后续清理，
// 所以并发的多个销毁请求中只有一个会交给持久化。返回是否由本次调用完成销毁。
func (s *LifecycleService) teardown(ctx context.Context, roomID, reason string) bool {
	logCtx := logrus.WithFields(logrus.Fields{"room_id": roomID, "reason": reason, "operation": "teardown"})

	room, deleted, err := s.store.DeleteRoomIf(ctx, roomID, domain.Endable)
	if err != nil {
		logCtx.WithError(err).Error("Failed to delete room")
		return false
	}
	if !deleted {
		logCtx.Debug("Teardown skipped: room gone, claimed by another caller, or someone is present again")
		return false
	}

	cancelled := s.timers.CancelRoom(roomID)

	var snapshot *domain.DocumentSnapshot
	if s.docs != nil {
		snapshot, err = s.docs.Release(ctx, roomID)
		if err != nil {
			logCtx.WithError(err).Warn("Failed to release room document")
		}
	}

	record := domain.SessionRecord{
		RoomID:         roomID,
		ParticipantIDs: room.MemberIDs(),
		Snapshot:       snapshot,
		Reason:         reason,
		CreatedAt:      room.CreatedAt,
		EndedAt:        s.now(),
	}
	if s.persister != nil {
		if err := s.persister.PersistSession(ctx, record); err != nil {
			logCtx.WithError(err).Error("Failed to persist session")
		}
	}
	s.metrics.Teardown(reason)
	logCtx.WithFields(logrus.Fields{
		"participants":     len(record.ParticipantIDs),
		"timers_cancelled": cancelled,
	}).Info("Room torn down")
	return true
}
