// Package ratelimit provides Redis-backed rate limiting using the INCR + EXPIRE
// fixed window algorithm. The matcher uses it to throttle decisions per
// swiping pet.
package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/pawpal/matchengine/internal/platform/logger"
	"github.com/redis/go-redis/v9"
)

// Rule defines a rate limiting policy: the Redis key prefix, maximum number of
// requests allowed in the window, and the window duration.
type Rule struct {
	Key    string        // Redis key prefix (e.g., "rl:swipe:")
	Limit  int           // max count in the window
	Window time.Duration // time window
}

// RuleSwipe allows 60 decisions per minute per source pet.
var RuleSwipe = Rule{Key: "rl:swipe:", Limit: 60, Window: time.Minute}

// SwipeRule returns RuleSwipe with the given limit and window. Non-positive
// values keep the defaults.
func SwipeRule(limit int, window time.Duration) Rule {
	r := RuleSwipe
	if limit > 0 {
		r.Limit = limit
	}
	if window > 0 {
		r.Window = window
	}
	return r
}

// Limiter performs rate limiting checks against Redis.
type Limiter struct {
	client *redis.Client
	log    *logger.Logger
}

// NewLimiter creates a Limiter backed by the given Redis client.
func NewLimiter(client *redis.Client) *Limiter {
	return &Limiter{client: client, log: logger.Named("ratelimit")}
}

// Allow checks whether the given identifier is within the rate limit defined by
// rule. It increments the counter in Redis and sets the expiry on first access.
//
// Returns true if the request is allowed, false if rate limited. On Redis
// errors the method fails open (returns true) so that a Redis outage does not
// block legitimate traffic.
func (l *Limiter) Allow(ctx context.Context, identifier string, rule Rule) (bool, error) {
	key := rule.Key + identifier

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		l.log.Warn().Err(err).Str("key", key).Msg("INCR failed, failing open")
		return true, err
	}

	// On the first increment, set the expiry to define the window boundary.
	if count == 1 {
		if err := l.client.Expire(ctx, key, rule.Window).Err(); err != nil {
			l.log.Warn().Err(err).Str("key", key).Msg("EXPIRE failed, failing open")
			// A key without TTL would block the identifier forever.
			l.client.Del(ctx, key)
			return true, err
		}
	}

	if int(count) > rule.Limit {
		return false, nil
	}

	return true, nil
}

// Remaining returns the number of requests the identifier has left in the
// current window for the given rule. Returns the full limit if the key does not
// exist yet. On Redis errors it returns the full limit (fail open).
func (l *Limiter) Remaining(ctx context.Context, identifier string, rule Rule) (int, error) {
	key := rule.Key + identifier

	count, err := l.client.Get(ctx, key).Int()
	if errors.Is(err, redis.Nil) {
		return rule.Limit, nil
	}
	if err != nil {
		l.log.Warn().Err(err).Str("key", key).Msg("GET failed, failing open")
		return rule.Limit, err
	}

	return max(rule.Limit-count, 0), nil
}
