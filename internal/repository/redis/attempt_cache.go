// Package redis holds the transport-level login throttle. This is a
// plain request-rate guard for the HTTP surface; the anomaly detector's
// failed-login rule is a separate, history-based policy.
package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"security-service/internal/client"
	"security-service/internal/util"
)

const (
	attemptPrefix = "login_attempts:"
	lockPrefix    = "login_lock:"
)

type AttemptCache struct {
	client *client.RedisClient
}

func NewAttemptCache(client *client.RedisClient) *AttemptCache {
	return &AttemptCache{client: client}
}

// IncrementAttempts bumps the attempt counter for key and returns the
// new count. The window TTL is set when the counter is created.
func (c *AttemptCache) IncrementAttempts(ctx context.Context, key string, window time.Duration) (int, error) {
	redisKey := attemptPrefix + key

	pipe := c.client.Client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.ExpireNX(ctx, redisKey, window)
	if _, err := pipe.Exec(ctx); err != nil {
		util.Error("Failed to increment login attempts",
			zap.String("key", key), zap.Error(err))
		return 0, fmt.Errorf("failed to increment login attempts: %w", err)
	}

	return int(incr.Val()), nil
}

// ResetAttempts clears the counter, typically after a successful login.
func (c *AttemptCache) ResetAttempts(ctx context.Context, key string) error {
	if err := c.client.Client.Del(ctx, attemptPrefix+key).Err(); err != nil {
		return fmt.Errorf("failed to reset login attempts: %w", err)
	}
	return nil
}

// SetTemporaryLock locks the key out for ttl.
func (c *AttemptCache) SetTemporaryLock(ctx context.Context, key string, ttl time.Duration) error {
	if err := c.client.Client.Set(ctx, lockPrefix+key, "locked", ttl).Err(); err != nil {
		util.Error("Failed to set login lock",
			zap.String("key", key), zap.Error(err))
		return fmt.Errorf("failed to set login lock: %w", err)
	}
	util.Warn("Temporary login lock set",
		zap.String("key", key), zap.Duration("ttl", ttl))
	return nil
}

// IsLocked reports whether the key is currently locked out.
func (c *AttemptCache) IsLocked(ctx context.Context, key string) (bool, error) {
	_, err := c.client.Client.Get(ctx, lockPrefix+key).Result()
	if err == goredis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check login lock: %w", err)
	}
	return true, nil
}
