package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Record 已完成请求的响应
type Record struct {
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body"`
}

type Store interface {
	Get(ctx context.Context, key string) (*Record, bool, error)
	Save(ctx context.Context, key string, record Record) error
}

// Key 幂等记录键，同一调用者在同一路由上的同一 Idempotency-Key 视为同一请求
func Key(principal, endpoint, idempotencyKey string) string {
	return fmt.Sprintf("idem:%s:%s:%s", principal, endpoint, idempotencyKey)
}

type memoryEntry struct {
	record    Record
	expiresAt time.Time
}

// MemoryStore 进程内幂等记录
type MemoryStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]memoryEntry
}

// NewMemoryStore ttl 为 0 时记录不过期
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]memoryEntry),
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) (*Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !entry.expiresAt.IsZero() && s.now().After(entry.expiresAt) {
		delete(s.entries, key)
		return nil, false, nil
	}
	record := entry.record
	return &record, true, nil
}

// Save 已存在的记录保留先写入的那份
func (s *MemoryStore) Save(_ context.Context, key string, record Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.entries[key]; ok && (old.expiresAt.IsZero() || !s.now().After(old.expiresAt)) {
		return nil
	}
	entry := memoryEntry{record: record}
	if s.ttl > 0 {
		entry.expiresAt = s.now().Add(s.ttl)
	}
	s.entries[key] = entry
	return nil
}

// RedisStore 基于 redis 的幂等记录，多实例共享
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func (s *RedisStore) Get(ctx context.Context, key string) (*Record, bool, error) {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read idempotency record: %w", err)
	}

	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, false, fmt.Errorf("failed to decode idempotency record: %w", err)
	}
	return &record, true, nil
}

// Save 已存在的记录保留先写入的那份
func (s *RedisStore) Save(ctx context.Context, key string, record Record) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	if err := s.rdb.SetNX(ctx, key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save idempotency record: %w", err)
	}
	return nil
}

// NewRedisClient 创建 redis 客户端并检查连接
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return rdb, nil
}
