package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces every key the backend writes.
const DefaultRedisPrefix = "prayer-alarms:"

// RedisBackend keeps records and the index as string values in Redis.
// Keys are never given a Redis TTL; expiry is decided by the Store from the
// record's expires_at so both backends behave the same.
type RedisBackend struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisClient builds a client for addr. An empty username or password is
// left unset.
func NewRedisClient(addr, username, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Username: username,
		Password: password,
		DB:       db,
	})
}

// NewRedisBackend wraps rdb. An empty prefix uses DefaultRedisPrefix.
func NewRedisBackend(rdb *redis.Client, prefix string) *RedisBackend {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisBackend{rdb: rdb, prefix: prefix}
}

func (b *RedisBackend) recordKey(key RecordKey) string {
	return b.prefix + "timings:" + key.String()
}

func (b *RedisBackend) indexKey() string {
	return b.prefix + "index"
}

func (b *RedisBackend) Init(ctx context.Context) error {
	if err := b.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

func (b *RedisBackend) get(ctx context.Context, key string) ([]byte, error) {
	data, err := b.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return data, nil
}

func (b *RedisBackend) set(ctx context.Context, key string, data []byte) error {
	if err := b.rdb.Set(ctx, key, data, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (b *RedisBackend) ReadRecord(ctx context.Context, key RecordKey) ([]byte, error) {
	return b.get(ctx, b.recordKey(key))
}

func (b *RedisBackend) WriteRecord(ctx context.Context, key RecordKey, data []byte) error {
	return b.set(ctx, b.recordKey(key), data)
}

func (b *RedisBackend) DeleteRecord(ctx context.Context, key RecordKey) error {
	if err := b.rdb.Del(ctx, b.recordKey(key)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

func (b *RedisBackend) ReadIndex(ctx context.Context) ([]byte, error) {
	return b.get(ctx, b.indexKey())
}

func (b *RedisBackend) WriteIndex(ctx context.Context, data []byte) error {
	return b.set(ctx, b.indexKey(), data)
}

// Clear deletes every key under the backend's prefix.
func (b *RedisBackend) Clear(ctx context.Context) error {
	iter := b.rdb.Scan(ctx, 0, b.prefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := b.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
