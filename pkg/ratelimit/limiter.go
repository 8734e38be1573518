// Package ratelimit provides the limiters behind the RateLimit procedure.
package ratelimit

import "context"

// Limiter decides whether one more request for key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}
