package cache

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisOpTimeout = 2 * time.Second

// RedisStorage is a Storage backed by Redis, for setups where several worker
// instances share one cache. Cache names are tracked in a set, entries live
// under a per-cache key prefix.
type RedisStorage struct {
	client *redis.Client
	prefix string
}

// NewRedisStorage connects to the Redis instance at rawURL.
func NewRedisStorage(rawURL string) (*RedisStorage, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &RedisStorage{client: client, prefix: "offline-cache"}, nil
}

// Close terminates the underlying Redis client connections.
func (s *RedisStorage) Close() error {
	return s.client.Close()
}

func (s *RedisStorage) namesKey() string {
	return s.prefix + ":caches"
}

func (s *RedisStorage) entryKey(name, key string) string {
	return s.prefix + ":" + name + ":" + key
}

func (s *RedisStorage) Open(name string) (Cache, error) {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	if err := s.client.SAdd(ctx, s.namesKey(), name).Err(); err != nil {
		return nil, fmt.Errorf("redis open cache %q: %w", name, err)
	}
	return &redisCache{storage: s, name: name}, nil
}

func (s *RedisStorage) Match(r *http.Request) ([]byte, bool, error) {
	names, err := s.Names()
	if err != nil {
		return nil, false, err
	}
	for _, name := range names {
		c := redisCache{storage: s, name: name}
		if snapshot, ok, err := c.Match(r); err != nil {
			return nil, false, err
		} else if ok {
			return snapshot, true, nil
		}
	}
	return nil, false, nil
}

func (s *RedisStorage) Names() ([]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	names, err := s.client.SMembers(ctx, s.namesKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list caches: %w", err)
	}
	return names, nil
}

func (s *RedisStorage) Delete(name string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	removed, err := s.client.SRem(ctx, s.namesKey(), name).Result()
	if err != nil {
		return false, fmt.Errorf("redis delete cache %q: %w", name, err)
	}
	iter := s.client.Scan(ctx, 0, s.entryKey(name, "*"), 0).Iterator()
	for iter.Next(ctx) {
		if err := s.client.Del(ctx, iter.Val()).Err(); err != nil {
			return removed > 0, fmt.Errorf("redis delete cache %q: %w", name, err)
		}
	}
	if err := iter.Err(); err != nil {
		return removed > 0, fmt.Errorf("redis delete cache %q: %w", name, err)
	}
	return removed > 0, nil
}

type redisCache struct {
	storage *RedisStorage
	name    string
}

func (c redisCache) Match(r *http.Request) ([]byte, bool, error) {
	ctx, cancel := context.WithTimeout(r.Context(), redisOpTimeout)
	defer cancel()
	data, err := c.storage.client.Get(ctx, c.storage.entryKey(c.name, Key(r))).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	return data, true, nil
}

func (c redisCache) Put(r *http.Request, snapshot []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	// entries have no TTL; they live until the cache is pruned
	if err := c.storage.client.Set(ctx, c.storage.entryKey(c.name, Key(r)), snapshot, 0).Err(); err != nil {
		return fmt.Errorf("redis put: %w", err)
	}
	return nil
}
