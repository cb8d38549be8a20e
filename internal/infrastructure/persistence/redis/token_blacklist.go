package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/turtacn/credcore/pkg/constants"
	"github.com/turtacn/credcore/pkg/errors"
	"github.com/turtacn/credcore/pkg/logger"
)

// TokenBlacklist tracks revoked access tokens until they would have expired
// anyway. Tokens are keyed by hash so the blacklist never stores a usable
// credential.
type TokenBlacklist struct {
	client     *redis.Client
	log        logger.Logger
	defaultTTL time.Duration
}

// NewTokenBlacklist wraps a connected Redis client. defaultTTL bounds
// entries whose remaining token lifetime is unknown.
func NewTokenBlacklist(client *redis.Client, defaultTTL time.Duration, log logger.Logger) *TokenBlacklist {
	return &TokenBlacklist{
		client:     client,
		log:        log.WithComponent("token_blacklist"),
		defaultTTL: defaultTTL,
	}
}

// Add blacklists a token hash for the token's remaining lifetime. A zero or
// negative ttl falls back to the default bound rather than keeping the entry
// forever.
func (b *TokenBlacklist) Add(ctx context.Context, tokenHash string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = b.defaultTTL
	}
	if err := b.client.Set(ctx, Key(constants.CategoryBlacklist, tokenHash), "1", ttl).Err(); err != nil {
		return errors.ErrCache(err)
	}
	return nil
}

// Contains reports whether the token hash is blacklisted. A store failure
// fails closed: callers treat the error as a denial.
func (b *TokenBlacklist) Contains(ctx context.Context, tokenHash string) (bool, error) {
	exists, err := b.client.Exists(ctx, Key(constants.CategoryBlacklist, tokenHash)).Result()
	if err != nil {
		return false, errors.ErrCache(err)
	}
	return exists > 0, nil
}
