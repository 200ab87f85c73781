package redisstore

import (
	"context"
	"errors"
	"fmt"

	"cicero-client/internal/pkg/logger"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "cicero:client:"

// KeyValueRepository persists values across process restarts, standing in
// for the browser's localStorage where the auth token lives.
type KeyValueRepository struct {
	rdb    *redis.Client
	logger logger.ILogger
}

func NewKeyValueRepository(rdb *redis.Client, log logger.ILogger) *KeyValueRepository {
	return &KeyValueRepository{rdb: rdb, logger: log}
}

// NewClient parses a redis:// URL, falling back to treating it as a bare
// address.
func NewClient(url string) *redis.Client {
	opt, err := redis.ParseURL(url)
	if err != nil {
		opt = &redis.Options{Addr: url}
	}
	return redis.NewClient(opt)
}

func (r *KeyValueRepository) Get(ctx context.Context, key string) (string, bool) {
	value, err := r.rdb.Get(ctx, keyPrefix+key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.logger.Warn("Storage", "Redis read failed", map[string]interface{}{"key": key, "error": err.Error()})
		}
		return "", false
	}
	return value, true
}

func (r *KeyValueRepository) Set(ctx context.Context, key, value string) error {
	if err := r.rdb.Set(ctx, keyPrefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("failed to store %s: %w", key, err)
	}
	return nil
}

func (r *KeyValueRepository) Delete(ctx context.Context, key string) error {
	if err := r.rdb.Del(ctx, keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}
