package redis

import (
	"context"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	goredis "github.com/redis/go-redis/v9"

	"github.com/xenking/marketplace/pkg/httpmiddleware"
)

const rateLimitKeyPrefix = "rl:"

var _ httpmiddleware.Limiter = (*RateLimiter)(nil)

// RateLimiter is a fixed window request counter shared by all API
// replicas. Each window is one key that expires shortly after it closes.
type RateLimiter struct {
	client goredis.UniversalClient
	max    int
	period time.Duration
}

// NewRateLimiter allows limit requests per period and key.
func NewRateLimiter(client goredis.UniversalClient, limit int, period time.Duration) *RateLimiter {
	return &RateLimiter{client: client, max: limit, period: period}
}

// Take counts one request for key in the window containing now.
func (l *RateLimiter) Take(ctx context.Context, key string, now time.Time) (httpmiddleware.Decision, error) {
	start := now.Truncate(l.period)
	end := start.Add(l.period)
	k := rateLimitKeyPrefix + key + ":" + strconv.FormatInt(start.Unix(), 10)

	var incr *goredis.IntCmd
	_, err := l.client.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		incr = p.Incr(ctx, k)
		p.ExpireAt(ctx, k, end.Add(time.Second))
		return nil
	})
	if err != nil {
		return httpmiddleware.Decision{}, errors.Wrap(err, "count request")
	}

	n := int(incr.Val())
	return httpmiddleware.Decision{
		Allowed:   n <= l.max,
		Remaining: max(l.max-n, 0),
		ResetAt:   end,
	}, nil
}
