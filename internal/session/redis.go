package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps every session in one Redis hash, one field per key.
// The whole hash expires after ttl of inactivity.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(addr string, ttl time.Duration) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStore{rdb: rdb, ttl: ttl}, nil
}

func redisKey(id string) string {
	return fmt.Sprintf("session:%s", id)
}

// Get reads one field of the session hash
func (s *RedisStore) Get(ctx context.Context, id, key string) ([]byte, error) {
	val, err := s.rdb.HGet(ctx, redisKey(id), key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, err
	}
	return val, nil
}

// Set writes one field and refreshes the session expiry
func (s *RedisStore) Set(ctx context.Context, id, key string, value []byte) error {
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, redisKey(id), key, value)
	if s.ttl > 0 {
		pipe.Expire(ctx, redisKey(id), s.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Remove deletes one field. Removing a missing field is not an error.
func (s *RedisStore) Remove(ctx context.Context, id, key string) error {
	return s.rdb.HDel(ctx, redisKey(id), key).Err()
}

// Close cleans up the connection
func (s *RedisStore) Close() error {
	if s.rdb != nil {
		return s.rdb.Close()
	}
	return nil
}
