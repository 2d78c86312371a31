package gateway

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/presencepro/platform/pkg/config"
)

// Two independent fixed windows are tracked per fingerprint: a sustained
// per-minute window and a short burst window.
const (
	minuteWindow = 60 * time.Second
	burstWindow  = 10 * time.Second
)

// Decision is the outcome of a rate-limit check.
type Decision struct {
	Allowed bool
	// RetryAfter is the window length in seconds of the counter that
	// rejected the request.
	RetryAfter int
	// FailedOpen is set when the counter store was unreachable and the
	// request was allowed through unthrottled.
	FailedOpen bool
}

// RateLimiter throttles requests by client fingerprint using atomic counters
// in a shared redis. Counters are never read-modified-written in process
// memory: each check is a single INCR with a conditional TTL on the first
// increment of a window.
type RateLimiter struct {
	client    *redis.Client
	perMinute int
	burst     int
	enabled   bool
}

// NewRateLimiter builds a limiter over the shared counter store. A nil client
// disables throttling entirely (every check fails open).
func NewRateLimiter(client *redis.Client, cfg config.RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		client:    client,
		perMinute: cfg.PerMinute,
		burst:     cfg.Burst,
		enabled:   cfg.Enabled,
	}
}

// Fingerprint identifies a client by IP plus a hash of its user agent.
func Fingerprint(ip, userAgent string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userAgent))
	return fmt.Sprintf("%s:%08x", ip, h.Sum32())
}

// Check increments both window counters for the fingerprint and decides
// whether the request may proceed. Store errors fail open.
func (l *RateLimiter) Check(ctx context.Context, fingerprint string) Decision {
	if !l.enabled || l.client == nil {
		return Decision{Allowed: true}
	}

	now := time.Now().UTC()

	count, err := l.increment(ctx, fmt.Sprintf("rl:m:%s:%d", fingerprint, now.Unix()/60), minuteWindow)
	if err != nil {
		return Decision{Allowed: true, FailedOpen: true}
	}
	if count > int64(l.perMinute) {
		return Decision{Allowed: false, RetryAfter: int(minuteWindow.Seconds())}
	}

	count, err = l.increment(ctx, fmt.Sprintf("rl:b:%s:%d", fingerprint, now.Unix()/10), burstWindow)
	if err != nil {
		return Decision{Allowed: true, FailedOpen: true}
	}
	if count > int64(l.burst) {
		return Decision{Allowed: false, RetryAfter: int(burstWindow.Seconds())}
	}

	return Decision{Allowed: true}
}

func (l *RateLimiter) increment(ctx context.Context, key string, window time.Duration) (int64, error) {
	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}
