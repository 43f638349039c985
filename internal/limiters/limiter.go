package limiters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var (
	// ErrRateLimited is returned when an identifier or IP exceeds its
	// attempt budget inside the cooldown window.
	ErrRateLimited = errors.New("rate limited")
	// ErrRedisUnavailable wraps Redis connectivity failures.
	ErrRedisUnavailable = errors.New("rate limiter redis unavailable")
)

// Config holds throttle tuning for one guarded operation.
type Config struct {
	EnableIdentifierThrottle bool
	EnableIPThrottle         bool
	MaxAttempts              int
	Cooldown                 time.Duration
}

// Limiter is a Redis fixed-window counter guarding a single operation
// (login, password-reset request) keyed by identifier and client IP.
//
// The throttle is advisory: it slows abuse at the edge while the
// account lockout in the user directory stays authoritative. For that
// reason a Redis outage degrades to allow (logged), unlike auth
// decisions which always fail closed. A nil *Limiter allows
// everything, so deployments without Redis skip the feature without
// branching at call sites.
type Limiter struct {
	redis  redis.UniversalClient
	prefix string
	log    *zap.Logger
	cfg    Config
}

// New creates a Limiter with the given key prefix.
func New(redisClient redis.UniversalClient, prefix string, log *zap.Logger, cfg Config) *Limiter {
	if redisClient == nil {
		return nil
	}
	if prefix == "" {
		prefix = "rl"
	}
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 15 * time.Minute
	}
	return &Limiter{redis: redisClient, prefix: prefix, log: log, cfg: cfg}
}

// Allow consumes one attempt for the identifier+IP pair. It returns
// ErrRateLimited when either key is over budget.
func (l *Limiter) Allow(ctx context.Context, identifier, ip string) error {
	if l == nil {
		return nil
	}

	if l.cfg.EnableIdentifierThrottle && identifier != "" {
		if err := l.consume(ctx, l.prefix+":id:"+identifier); err != nil {
			return err
		}
	}
	if l.cfg.EnableIPThrottle && ip != "" {
		if err := l.consume(ctx, l.prefix+":ip:"+ip); err != nil {
			return err
		}
	}
	return nil
}

// Reset clears the identifier counter, called after a successful
// login so legitimate users regain their full budget.
func (l *Limiter) Reset(ctx context.Context, identifier string) {
	if l == nil || identifier == "" {
		return
	}
	if err := l.redis.Del(ctx, l.prefix+":id:"+identifier).Err(); err != nil {
		l.log.Warn("rate limiter reset failed", zap.Error(err))
	}
}

func (l *Limiter) consume(ctx context.Context, key string) error {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		l.log.Warn("rate limiter unavailable, allowing request",
			zap.String("key_prefix", l.prefix),
			zap.Error(err),
		)
		return nil
	}

	if count == 1 {
		if err := l.redis.Expire(ctx, key, l.cfg.Cooldown).Err(); err != nil {
			l.log.Warn("rate limiter expire failed, allowing request",
				zap.String("key_prefix", l.prefix),
				zap.Error(fmt.Errorf("%w: %v", ErrRedisUnavailable, err)),
			)
			return nil
		}
	}

	if count > int64(l.cfg.MaxAttempts) {
		return ErrRateLimited
	}
	return nil
}
