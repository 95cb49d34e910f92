package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/issuetracker/backend/internal/logger"
)

const revokedPrefix = "revoked:refresh:"

// Config holds the connection settings for the redis client.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// Cache wraps a redis client. It stores refresh-token revocation records.
type Cache struct {
	client *redis.Client
	log    *logger.Logger
	now    func() time.Time
}

// New connects to redis and verifies the connection.
func New(ctx context.Context, cfg Config) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}

	c := NewWithClient(client)
	c.log.Info(ctx, "connected to redis", zap.String("addr", cfg.Addr))
	return c, nil
}

// NewWithClient wraps an existing client without pinging it.
func NewWithClient(client *redis.Client) *Cache {
	return &Cache{
		client: client,
		log:    logger.Default().WithComponent("cache"),
		now:    time.Now,
	}
}

// Close releases the underlying connection pool.
func (c *Cache) Close() error {
	return c.client.Close()
}

// Ping reports whether redis is reachable.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Revoke records tokenID as revoked until the given time. A record whose
// token has already expired is not written.
func (c *Cache) Revoke(ctx context.Context, tokenID string, until time.Time) error {
	if tokenID == "" {
		return errors.New("empty token id")
	}
	ttl := until.Sub(c.now())
	if ttl <= 0 {
		return nil
	}
	if err := c.client.Set(ctx, revokedPrefix+tokenID, "1", ttl).Err(); err != nil {
		c.log.Error(ctx, "revocation write failed", err)
		return fmt.Errorf("revoke token: %w", err)
	}
	c.log.Debug(ctx, "refresh token revoked", zap.Duration("ttl", ttl))
	return nil
}

// IsRevoked reports whether tokenID has a live revocation record.
func (c *Cache) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	n, err := c.client.Exists(ctx, revokedPrefix+tokenID).Result()
	if err != nil {
		return false, fmt.Errorf("check revocation: %w", err)
	}
	return n > 0, nil
}
