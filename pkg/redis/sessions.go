package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Refresh sessions live under rxd:session:access:<jti> holding a digest of the
// refresh token, and every jti is indexed in the set rxd:session:user:<id>.

// swapSessionScript replaces one session with another only if the stored
// digest still matches, so two concurrent refreshes cannot both win.
// KEYS: old access, new access, user index. ARGV: expected digest, new
// digest, ttl ms, old jti, new jti.
var swapSessionScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) ~= ARGV[1] then
	return 0
end
redis.call("DEL", KEYS[1])
redis.call("SREM", KEYS[3], ARGV[4])
redis.call("SET", KEYS[2], ARGV[2], "PX", ARGV[3])
redis.call("SADD", KEYS[3], ARGV[5])
redis.call("PEXPIRE", KEYS[3], ARGV[3])
return 1
`)

// OpenSession stores a session digest and indexes it under the user.
func (c *Client) OpenSession(ctx context.Context, userID, accessID, digest string, ttl time.Duration) error {
	if c.rdb == nil {
		return errNotInitialized
	}
	index := userSessionsKey(userID)
	_, err := c.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, accessSessionKey(accessID), digest, ttl)
		p.SAdd(ctx, index, accessID)
		p.Expire(ctx, index, ttl)
		return nil
	})
	return err
}

// SwapSession atomically retires oldAccessID in favour of newAccessID when
// the stored digest equals expected. It reports false on a mismatch or when
// the old session is gone.
func (c *Client) SwapSession(ctx context.Context, userID, oldAccessID, expected, newAccessID, digest string, ttl time.Duration) (bool, error) {
	if c.rdb == nil {
		return false, errNotInitialized
	}
	keys := []string{accessSessionKey(oldAccessID), accessSessionKey(newAccessID), userSessionsKey(userID)}
	swapped, err := swapSessionScript.Run(ctx, c.rdb, keys, expected, digest, ttl.Milliseconds(), oldAccessID, newAccessID).Int()
	if err != nil {
		return false, err
	}
	return swapped == 1, nil
}

// CloseSession removes one session and its index entry.
func (c *Client) CloseSession(ctx context.Context, userID, accessID string) error {
	if c.rdb == nil {
		return errNotInitialized
	}
	_, err := c.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, accessSessionKey(accessID))
		if userID != "" {
			p.SRem(ctx, userSessionsKey(userID), accessID)
		}
		return nil
	})
	return err
}

// CloseUserSessions removes every session indexed under the user.
func (c *Client) CloseUserSessions(ctx context.Context, userID string) (int, error) {
	if c.rdb == nil {
		return 0, errNotInitialized
	}
	index := userSessionsKey(userID)
	accessIDs, err := c.rdb.SMembers(ctx, index).Result()
	if err != nil {
		return 0, err
	}
	keys := make([]string, 0, len(accessIDs)+1)
	for _, id := range accessIDs {
		keys = append(keys, accessSessionKey(id))
	}
	keys = append(keys, index)
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		return 0, err
	}
	return len(accessIDs), nil
}

// SessionExists reports whether the access session is still open.
func (c *Client) SessionExists(ctx context.Context, accessID string) (bool, error) {
	if c.rdb == nil {
		return false, errNotInitialized
	}
	n, err := c.rdb.Exists(ctx, accessSessionKey(accessID)).Result()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
