package redis

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Window is the outcome of one hit against a fixed-window counter.
type Window struct {
	Allowed    bool
	Count      int64
	RetryAfter time.Duration
}

// fixedWindowScript increments the counter and starts the window on the first
// hit in one round trip, so a crash between INCR and PEXPIRE cannot leave a
// counter that never resets. Returns {count, remaining ttl in ms}.
var fixedWindowScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
	ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// FixedWindowAllow counts a hit for scope and reports whether it is within
// limit for the current window.
func (c *Client) FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (Window, error) {
	if c.rdb == nil {
		return Window{}, errNotInitialized
	}
	if window <= 0 {
		return Window{}, errors.New("rate limit window must be positive")
	}
	vals, err := fixedWindowScript.Run(ctx, c.rdb, []string{rateLimitKey(scope)}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return Window{}, err
	}
	if len(vals) != 2 {
		return Window{}, errors.New("unexpected rate limit script reply")
	}
	return Window{
		Allowed:    vals[0] <= limit,
		Count:      vals[0],
		RetryAfter: time.Duration(vals[1]) * time.Millisecond,
	}, nil
}
