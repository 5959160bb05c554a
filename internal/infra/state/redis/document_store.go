package redisstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"collab-presence/internal/domain"
	"collab-presence/internal/repository"
)

// RedisDocumentStore 是 DocumentStore 接口的 Redis 实现，每个房间一个带 TTL 的 JSON 字符串。
type RedisDocumentStore struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

// NewRedisDocumentStore 创建 RedisDocumentStore 实例；ttl 为 0 表示永不过期
func NewRedisDocumentStore(client *redis.Client, keyPrefix string, ttl time.Duration) *RedisDocumentStore {
	if client == nil {
		panic("redis client cannot be nil for RedisDocumentStore")
	}
	if keyPrefix == "" {
		keyPrefix = "cp:"
	}
	return &RedisDocumentStore{client: client, keyPrefix: keyPrefix, ttl: ttl}
}

func (r *RedisDocumentStore) documentKey(roomID string) string {
	return fmt.Sprintf("%sroom:%s:document", r.keyPrefix, roomID)
}

// Update 将快照写入缓存并刷新 TTL
func (r *RedisDocumentStore) Update(ctx context.Context, roomID string, snapshot domain.DocumentSnapshot) error {
	key := r.documentKey(roomID)
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("redis: failed to marshal document for room %s: %w", roomID, err)
	}
	if err := r.client.Set(ctx, key, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis: failed to set document for room %s on key %s: %w", roomID, key, err)
	}
	return nil
}

// Get 读取房间的最新快照
func (r *RedisDocumentStore) Get(ctx context.Context, roomID string) (*domain.DocumentSnapshot, error) {
	key := r.documentKey(roomID)
	raw, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, repository.ErrDocumentNotFound
		}
		return nil, fmt.Errorf("redis: failed to get document for room %s from %s: %w", roomID, key, err)
	}
	return decodeDocument(roomID, raw)
}

// Release 在一个事务里读取并删除快照
func (r *RedisDocumentStore) Release(ctx context.Context, roomID string) (*domain.DocumentSnapshot, error) {
	key := r.documentKey(roomID)
	var getCmd *redis.StringCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		getCmd = pipe.Get(ctx, key)
		pipe.Del(ctx, key)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: failed to release document for room %s: %w", roomID, err)
	}
	raw, err := getCmd.Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis: failed to read released document for room %s: %w", roomID, err)
	}
	return decodeDocument(roomID, raw)
}

func decodeDocument(roomID, raw string) (*domain.DocumentSnapshot, error) {
	var snapshot domain.DocumentSnapshot
	if err := json.Unmarshal([]byte(raw), &snapshot); err != nil {
		return nil, fmt.Errorf("redis: failed to unmarshal document for room %s: %w", roomID, err)
	}
	return &snapshot, nil
}
