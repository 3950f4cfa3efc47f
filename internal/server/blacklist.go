package server

import (
	"context"
	"fmt"
	"net"
	"net/http"

	"github.com/go-redis/redis/v8"

	"github.com/gravitas-games/hacksim/internal/config"
)

// Blacklist decides whether a client address may connect
type Blacklist interface {
	Blocked(ctx context.Context, ip string) (bool, error)
}

// RedisBlacklist looks up blocked addresses as Redis keys
type RedisBlacklist struct {
	client *redis.Client
	prefix string
}

// NewRedisBlacklist creates a blacklist backed by Redis.
// Connections are made lazily, so an unreachable server is retried on each lookup.
func NewRedisBlacklist(cfg config.RedisConfig) *RedisBlacklist {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &RedisBlacklist{client: client, prefix: cfg.BlacklistPrefix}
}

// Ping verifies that Redis is reachable
func (b *RedisBlacklist) Ping(ctx context.Context) error {
	if err := b.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return nil
}

// Blocked checks if a blacklist key exists for ip
func (b *RedisBlacklist) Blocked(ctx context.Context, ip string) (bool, error) {
	n, err := b.client.Exists(ctx, b.key(ip)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check blacklist: %w", err)
	}
	return n > 0, nil
}

// Close closes the Redis connection
func (b *RedisBlacklist) Close() error {
	return b.client.Close()
}

func (b *RedisBlacklist) key(ip string) string {
	return b.prefix + ip
}

// remoteIP returns the client address without port
func remoteIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
