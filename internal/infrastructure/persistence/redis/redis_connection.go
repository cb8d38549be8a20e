// Package redis implements the fast cache store: sessions under sliding
// TTLs, set indexes, the token blacklist, and device records.
package redis

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/turtacn/credcore/internal/config"
	"github.com/turtacn/credcore/pkg/errors"
	"github.com/turtacn/credcore/pkg/logger"
)

// NewClient builds a Redis client from config and verifies the connection.
// An unreachable cache store at startup is fatal.
func NewClient(ctx context.Context, cfg config.RedisConfig, log logger.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, errors.ErrStoreUnreachable("redis", err)
	}

	log.Info(ctx, "redis connected",
		logger.String("addr", cfg.Addr),
		logger.Int("db", cfg.DB),
	)
	return client, nil
}
