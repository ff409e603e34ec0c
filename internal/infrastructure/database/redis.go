package database

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"brokle/internal/config"
)

// RedisDB holds the Redis connection backing the EventBus, per spec.md §4.1.
type RedisDB struct {
	Client *redis.Client
	logger *logrus.Logger
}

// NewRedisDB connects to the Redis instance addressed by EVENTBUS_URL.
func NewRedisDB(cfg *config.Config, logger *logrus.Logger) (*RedisDB, error) {
	opt, err := redis.ParseURL(cfg.EventBus.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse eventbus url: %w", err)
	}

	opt.MaxRetries = 3
	opt.DialTimeout = 5 * time.Second
	opt.ReadTimeout = 3 * time.Second
	opt.WriteTimeout = 3 * time.Second
	opt.PoolSize = 20

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping eventbus redis: %w", err)
	}

	logger.Info("connected to eventbus redis")

	return &RedisDB{Client: client, logger: logger}, nil
}

// Close closes the Redis connection.
func (r *RedisDB) Close() error {
	r.logger.Info("closing eventbus redis connection")
	return r.Client.Close()
}

// Health checks the Redis connection, used by DatabaseContainer.HealthCheck.
func (r *RedisDB) Health() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return r.Client.Ping(ctx).Err()
}
