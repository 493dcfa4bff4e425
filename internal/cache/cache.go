// Package cache — read-through кэш control plane в Redis.
//
// Кэшируются разрешение маршрута в endpoint, активный workflow
// endpoint и метаданные моделей. Источник истины — PostgreSQL (repo);
// недоступность Redis не ломает запросы, а только снимает кэш.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultTTL    = 5 * time.Minute
	defaultPrefix = "conveyor"
)

// errNoSource — кэш создан без источника.
var errNoSource = errors.New("cache source is not configured")

// Cache — JSON значения в Redis с общим TTL и префиксом ключей.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
	logger *slog.Logger
}

// Config — конфигурация Cache.
type Config struct {
	Client *redis.Client
	TTL    time.Duration // время жизни записи (default: 5m)
	Prefix string        // префикс ключей (default: "conveyor")
	Logger *slog.Logger
}

// New создаёт новый Cache.
func New(cfg Config) *Cache {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = defaultPrefix
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		client: cfg.Client,
		ttl:    ttl,
		prefix: prefix,
		logger: logger,
	}
}

// NewClient создаёт клиент Redis и проверяет соединение.
func NewClient(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func (c *Cache) key(parts ...string) string {
	k := c.prefix
	for _, p := range parts {
		k += ":" + p
	}
	return k
}

// get читает значение в dst. false — промах.
func (c *Cache) get(ctx context.Context, key string, dst any) (bool, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis get %s: %w", key, err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func (c *Cache) set(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (c *Cache) del(ctx context.Context, keys ...string) error {
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// readThrough возвращает значение из кэша или загружает его через load
// и кладёт в кэш. Ошибки Redis логируются и не возвращаются.
func readThrough[T any](ctx context.Context, c *Cache, key string, load func() (*T, error)) (*T, error) {
	var cached T
	hit, err := c.get(ctx, key, &cached)
	if err != nil {
		c.logger.Warn("cache read failed", "key", key, "error", err)
	}
	if hit {
		return &cached, nil
	}

	v, err := load()
	if err != nil {
		return nil, err
	}

	if err := c.set(ctx, key, v); err != nil {
		c.logger.Warn("cache write failed", "key", key, "error", err)
	}
	return v, nil
}
