package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"crossscanner/config"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(cfg config.RedisConfig) *RedisStore {
	return &RedisStore{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		prefix: cfg.Prefix,
	}
}

func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisStore) Get(ctx context.Context, key string, dest any) (bool, error) {
	data, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis get %q: %w", key, err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return true, fmt.Errorf("decode %q: %w", key, err)
	}
	return true, nil
}

func (r *RedisStore) Put(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %q: %w", key, err)
	}
	if err := r.client.Set(ctx, r.prefix+key, data, 0).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", key, err)
	}
	return nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

// Open returns a redis-backed store when enabled and reachable, otherwise an
// in-memory store.
func Open(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) Store {
	if !cfg.Enabled {
		logger.Info("redis disabled, using in-memory config store")
		return NewMemoryStore()
	}

	store := NewRedisStore(cfg)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := store.Ping(pingCtx); err != nil {
		logger.Warn("redis unreachable, falling back to in-memory config store",
			zap.String("addr", cfg.Addr), zap.Error(err))
		_ = store.Close()
		return NewMemoryStore()
	}

	logger.Info("redis config store connected", zap.String("addr", cfg.Addr))
	return store
}
