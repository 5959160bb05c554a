package redisstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"collab-presence/internal/domain"
	"collab-presence/internal/repository"
)

// maxTxRetries bounds optimistic transaction retries on a hot room.
const maxTxRetries = 16

// RedisPresenceStore 是 PresenceStore 接口的 Redis 实现。
// 每个房间一个 Hash (field = memberID, value = JSON 记录)，外加一个 meta Hash 和房间索引 Set。
type RedisPresenceStore struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisPresenceStore 创建 RedisPresenceStore 实例
func NewRedisPresenceStore(client *redis.Client, keyPrefix string) *RedisPresenceStore {
	if client == nil {
		panic("redis client cannot be nil for RedisPresenceStore")
	}
	if keyPrefix == "" {
		keyPrefix = "cp:"
	}
	return &RedisPresenceStore{client: client, keyPrefix: keyPrefix}
}

// --- Key Generation Helpers ---
func (r *RedisPresenceStore) membersKey(roomID string) string {
	return fmt.Sprintf("%sroom:%s:members", r.keyPrefix, roomID)
}

func (r *RedisPresenceStore) metaKey(roomID string) string {
	return fmt.Sprintf("%sroom:%s:meta", r.keyPrefix, roomID)
}

func (r *RedisPresenceStore) roomsKey() string {
	return r.keyPrefix + "rooms"
}

// watch runs fn inside WATCH on the room's member hash, retrying on conflicts.
func (r *RedisPresenceStore) watch(ctx context.Context, roomID string, fn func(tx *redis.Tx) error) error {
	key := r.membersKey(roomID)
	for attempt := 0; attempt < maxTxRetries; attempt++ {
		err := r.client.Watch(ctx, fn, key)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("redis: room %s: %w", roomID, repository.ErrConflict)
}

// hashGetter is satisfied by both *redis.Client and *redis.Tx.
type hashGetter interface {
	HGet(ctx context.Context, key, field string) *redis.StringCmd
}

func (r *RedisPresenceStore) readMember(ctx context.Context, cmd hashGetter, roomID, memberID string) (*domain.MembershipRecord, error) {
	raw, err := cmd.HGet(ctx, r.membersKey(roomID), memberID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, repository.ErrMemberNotFound
		}
		return nil, fmt.Errorf("redis: failed to get member %s of room %s: %w", memberID, roomID, err)
	}
	var rec domain.MembershipRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("redis: failed to unmarshal member %s of room %s: %w", memberID, roomID, err)
	}
	return &rec, nil
}

func (r *RedisPresenceStore) writeMember(ctx context.Context, pipe redis.Pipeliner, rec domain.MembershipRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("redis: failed to marshal member %s: %w", rec.MemberID, err)
	}
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	pipe.HSet(ctx, r.membersKey(rec.RoomID), rec.MemberID, data)
	pipe.HSetNX(ctx, r.metaKey(rec.RoomID), "createdAt", now)
	if rec.State.Present() {
		pipe.HSet(ctx, r.metaKey(rec.RoomID), "lastNonemptyAt", now)
	}
	pipe.SAdd(ctx, r.roomsKey(), rec.RoomID)
	return nil
}

// UpsertMember 创建或合并成员记录。
func (r *RedisPresenceStore) UpsertMember(ctx context.Context, roomID, memberID string, fields domain.MemberFields) error {
	return r.watch(ctx, roomID, func(tx *redis.Tx) error {
		rec, err := r.readMember(ctx, tx, roomID, memberID)
		if err != nil {
			if !errors.Is(err, repository.ErrNotFound) {
				return err
			}
			rec = &domain.MembershipRecord{RoomID: roomID, MemberID: memberID}
		}
		fields.Apply(rec)
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			return r.writeMember(ctx, pipe, *rec)
		})
		return err
	})
}

// InsertMemberIfAbsent 仅当成员记录不存在时创建，返回本次调用是否创建成功。
func (r *RedisPresenceStore) InsertMemberIfAbsent(ctx context.Context, roomID, memberID string, fields domain.MemberFields) (bool, error) {
	inserted := false
	err := r.watch(ctx, roomID, func(tx *redis.Tx) error {
		inserted = false
		exists, err := tx.HExists(ctx, r.membersKey(roomID), memberID).Result()
		if err != nil {
			return fmt.Errorf("redis: failed to check member %s of room %s: %w", memberID, roomID, err)
		}
		if exists {
			return nil
		}
		rec := domain.MembershipRecord{RoomID: roomID, MemberID: memberID}
		fields.Apply(&rec)
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			return r.writeMember(ctx, pipe, rec)
		})
		if err == nil {
			inserted = true
		}
		return err
	})
	return inserted, err
}

// UpdateMemberIf 仅当记录存在且满足 cond 时才写入 (CAS)。
func (r *RedisPresenceStore) UpdateMemberIf(ctx context.Context, roomID, memberID string, cond domain.Precondition, fields domain.MemberFields) (bool, error) {
	applied := false
	err := r.watch(ctx, roomID, func(tx *redis.Tx) error {
		applied = false
		rec, err := r.readMember(ctx, tx, roomID, memberID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil
			}
			return err
		}
		if !cond.Holds(*rec) {
			return nil
		}
		fields.Apply(rec)
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			return r.writeMember(ctx, pipe, *rec)
		})
		if err == nil {
			applied = true
		}
		return err
	})
	return applied, err
}

// GetMember 获取单个成员记录
func (r *RedisPresenceStore) GetMember(ctx context.Context, roomID, memberID string) (*domain.MembershipRecord, error) {
	return r.readMember(ctx, r.client, roomID, memberID)
}

// ListMembers 获取房间内所有成员，房间不存在时返回空切片
func (r *RedisPresenceStore) ListMembers(ctx context.Context, roomID string) ([]domain.MembershipRecord, error) {
	key := r.membersKey(roomID)
	raw, err := r.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: failed to list members of room %s from %s: %w", roomID, key, err)
	}
	return decodeMembers(roomID, raw), nil
}

func decodeMembers(roomID string, raw map[string]string) []domain.MembershipRecord {
	members := make([]domain.MembershipRecord, 0, len(raw))
	for memberID, value := range raw {
		var rec domain.MembershipRecord
		if err := json.Unmarshal([]byte(value), &rec); err != nil {
			logrus.WithFields(logrus.Fields{"room_id": roomID, "member_id": memberID}).
				WithError(err).Warn("redis: skipping corrupt membership record")
			continue
		}
		members = append(members, rec)
	}
	sort.Slice(members, func(i, j int) bool { return members[i].MemberID < members[j].MemberID })
	return members
}

// RemoveMember 删除成员；删除最后一个成员时同时删除房间
func (r *RedisPresenceStore) RemoveMember(ctx context.Context, roomID, memberID string) error {
	membersKey := r.membersKey(roomID)
	return r.watch(ctx, roomID, func(tx *redis.Tx) error {
		exists, err := tx.HExists(ctx, membersKey, memberID).Result()
		if err != nil {
			return fmt.Errorf("redis: failed to check member %s of room %s: %w", memberID, roomID, err)
		}
		if !exists {
			return nil
		}
		count, err := tx.HLen(ctx, membersKey).Result()
		if err != nil {
			return fmt.Errorf("redis: failed to count members of room %s: %w", roomID, err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if count <= 1 {
				pipe.Del(ctx, membersKey, r.metaKey(roomID))
				pipe.SRem(ctx, r.roomsKey(), roomID)
				return nil
			}
			pipe.HDel(ctx, membersKey, memberID)
			return nil
		})
		return err
	})
}

// DeleteRoom 无条件删除房间的所有状态，返回本次调用是否真正删除了房间
func (r *RedisPresenceStore) DeleteRoom(ctx context.Context, roomID string) (bool, error) {
	_, deleted, err := r.DeleteRoomIf(ctx, roomID, nil)
	return deleted, err
}

// DeleteRoomIf 在 WATCH 下重新读取成员列表，cond 成立时才在 MULTI 中删除。
// 读取之后有成员加入会使事务失败并重试，所以不会删掉刚加入的成员。
func (r *RedisPresenceStore) DeleteRoomIf(ctx context.Context, roomID string, cond func([]domain.MembershipRecord) bool) (*domain.RoomState, bool, error) {
	var (
		room    *domain.RoomState
		deleted bool
	)
	membersKey := r.membersKey(roomID)
	err := r.watch(ctx, roomID, func(tx *redis.Tx) error {
		room, deleted = nil, false
		raw, err := tx.HGetAll(ctx, membersKey).Result()
		if err != nil {
			return fmt.Errorf("redis: failed to list members of room %s from %s: %w", roomID, membersKey, err)
		}
		members := decodeMembers(roomID, raw)
		if cond != nil && !cond(members) {
			return nil
		}
		meta, err := tx.HMGet(ctx, r.metaKey(roomID), "createdAt", "lastNonemptyAt").Result()
		if err != nil {
			return fmt.Errorf("redis: failed to get meta of room %s: %w", roomID, err)
		}
		var delCmd *redis.IntCmd
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			delCmd = pipe.Del(ctx, membersKey)
			pipe.Del(ctx, r.metaKey(roomID))
			pipe.SRem(ctx, r.roomsKey(), roomID)
			return nil
		})
		if err != nil {
			return err
		}
		if delCmd.Val() > 0 {
			deleted = true
			room = newRoomState(roomID, members, meta)
		}
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("redis: failed to delete room %s: %w", roomID, err)
	}
	return room, deleted, nil
}

func newRoomState(roomID string, members []domain.MembershipRecord, meta []interface{}) *domain.RoomState {
	room := &domain.RoomState{
		RoomID:         roomID,
		Members:        make(map[string]domain.MembershipRecord, len(members)),
		CreatedAt:      parseMillis(meta[0]),
		LastNonemptyAt: parseMillis(meta[1]),
	}
	for _, m := range members {
		room.Members[m.MemberID] = m
	}
	return room
}

// GetRoom 获取房间完整状态；没有成员时返回 ErrRoomNotFound
func (r *RedisPresenceStore) GetRoom(ctx context.Context, roomID string) (*domain.RoomState, error) {
	members, err := r.ListMembers(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return nil, repository.ErrRoomNotFound
	}
	meta, err := r.client.HMGet(ctx, r.metaKey(roomID), "createdAt", "lastNonemptyAt").Result()
	if err != nil {
		return nil, fmt.Errorf("redis: failed to get meta of room %s: %w", roomID, err)
	}
	return newRoomState(roomID, members, meta), nil
}

// ListRooms 返回当前记录的所有房间 ID
func (r *RedisPresenceStore) ListRooms(ctx context.Context) ([]string, error) {
	rooms, err := r.client.SMembers(ctx, r.roomsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: failed to list rooms from %s: %w", r.roomsKey(), err)
	}
	sort.Strings(rooms)
	return rooms, nil
}

func parseMillis(v interface{}) time.Time {
	s, ok := v.(string)
	if !ok {
		return time.Time{}
	}
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
