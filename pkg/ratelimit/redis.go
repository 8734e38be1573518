package ratelimit

import (
	"context"
	"fmt"
	"time"

	backend "github.com/redis/go-redis/v9"
)

// fixedWindow counts hits in the current window and starts the window on the
// first hit.
var fixedWindow = backend.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return n
`)

// Redis is a fixed-window counter shared by every process using the same
// Redis.
type Redis struct {
	client backend.Scripter
	prefix string
	limit  int64
	window time.Duration
}

// RedisOption configures a Redis limiter.
type RedisOption func(*Redis)

// WithPrefix namespaces the counter keys. The default is "actionkit:rl:".
func WithPrefix(prefix string) RedisOption {
	return func(r *Redis) { r.prefix = prefix }
}

// NewRedis allows limit hits per key in every window.
func NewRedis(client backend.Scripter, limit int64, window time.Duration, opts ...RedisOption) *Redis {
	r := &Redis{
		client: client,
		prefix: "actionkit:rl:",
		limit:  limit,
		window: window,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Allow counts one hit for key.
func (r *Redis) Allow(ctx context.Context, key string) (bool, error) {
	n, err := fixedWindow.Run(ctx, r.client, []string{r.prefix + key}, r.window.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("redis rate limit %q: %w", key, err)
	}
	return n <= r.limit, nil
}

var _ Limiter = (*Redis)(nil)
