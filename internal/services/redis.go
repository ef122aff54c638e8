package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// ConnectRedis parses a redis:// URL and returns a client that has answered
// a ping. Used by the Act lock and the event broadcaster.
func ConnectRedis(ctx context.Context, redisURL string, logger *slog.Logger) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	rdb := redis.NewClient(opt)
	if err := WaitForRedis(ctx, rdb, logger, 5, time.Second); err != nil {
		_ = rdb.Close()
		return nil, err
	}

	logger.Info("Connected to Redis", "addr", opt.Addr, "db", opt.DB)
	return rdb, nil
}

// WaitForRedis pings until Redis answers or attempts run out.
func WaitForRedis(ctx context.Context, rdb *redis.Client, logger *slog.Logger, maxRetries int, retryDelay time.Duration) error {
	var err error
	for i := 0; i < maxRetries; i++ {
		if err = rdb.Ping(ctx).Err(); err == nil {
			return nil
		}
		logger.Debug("Redis not ready yet", "error", err, "attempt", i+1)

		select {
		case <-ctx.Done():
			return fmt.Errorf("context cancelled while waiting for redis: %w", ctx.Err())
		case <-time.After(retryDelay):
		}
	}
	return fmt.Errorf("redis did not become available after %d attempts: %w", maxRetries, err)
}
