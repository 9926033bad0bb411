package redis

import "strings"

const keyNamespace = "rxd"

// key joins non-empty parts under the rxd namespace, e.g. rxd:session:user:<id>.
func key(parts ...string) string {
	var b strings.Builder
	b.WriteString(keyNamespace)
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		b.WriteByte(':')
		b.WriteString(part)
	}
	return b.String()
}

// IdempotencyKey namespaces a client-supplied or event-derived key by scope.
func (c *Client) IdempotencyKey(scope, id string) string {
	return key("idempotency", scope, id)
}

// CacheKey namespaces cached third-party lookups.
func (c *Client) CacheKey(parts ...string) string {
	return key(append([]string{"cache"}, parts...)...)
}

func rateLimitKey(scope string) string {
	return key("rate_limit", scope)
}

func accessSessionKey(accessID string) string {
	return key("session", "access", accessID)
}

func userSessionsKey(userID string) string {
	return key("session", "user", userID)
}
