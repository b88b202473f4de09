package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nexus-scanner/nexus/internal/config"
	"github.com/nexus-scanner/nexus/internal/core"
	"github.com/nexus-scanner/nexus/pkg/types"
)

const keyPrefix = "nexus:cache:"

// redisStore shares finding snapshots across processes. Redis handles TTL
// expiry itself; a SET on a live key overwrites atomically, which matches
// the last-writer-wins contract.
type redisStore struct {
	client *redis.Client
}

func NewRedisStore(cfg config.RedisConfig) (core.CacheStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrCacheUnavailable, err)
	}

	return &redisStore{client: client}, nil
}

func (s *redisStore) Get(ctx context.Context, fingerprint string) (types.CacheEntry, bool, error) {
	data, err := s.client.Get(ctx, keyPrefix+fingerprint).Bytes()
	if errors.Is(err, redis.Nil) {
		return types.CacheEntry{}, false, nil
	}
	if err != nil {
		return types.CacheEntry{}, false, fmt.Errorf("%w: %v", types.ErrCacheUnavailable, err)
	}

	var entry types.CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		// A corrupt entry is treated as absent; the next Put repairs it.
		return types.CacheEntry{}, false, nil
	}
	if entry.Expired(time.Now()) {
		return types.CacheEntry{}, false, nil
	}
	return entry, true, nil
}

func (s *redisStore) Put(ctx context.Context, fingerprint string, findings []types.Finding, ttl time.Duration) error {
	entry := types.CacheEntry{
		Fingerprint: fingerprint,
		Findings:    findings,
	}
	if ttl > 0 {
		entry.Expiry = time.Now().Add(ttl)
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}

	if err := s.client.Set(ctx, keyPrefix+fingerprint, data, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", types.ErrCacheUnavailable, err)
	}
	return nil
}

func (s *redisStore) Invalidate(ctx context.Context, fingerprint string) error {
	if err := s.client.Del(ctx, keyPrefix+fingerprint).Err(); err != nil {
		return fmt.Errorf("%w: %v", types.ErrCacheUnavailable, err)
	}
	return nil
}

func (s *redisStore) Close() error {
	return s.client.Close()
}
