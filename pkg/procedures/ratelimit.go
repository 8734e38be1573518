package procedures

import (
	"context"
	"fmt"
	"net"
	"net/http"

	"github.com/rendis/actionkit/pkg/action"
	"github.com/rendis/actionkit/pkg/ratelimit"
	"github.com/rendis/actionkit/pkg/schema"
)

// KeyFunc selects the rate limit bucket of a request.
type KeyFunc[P any] func(req action.ProcedureRequest[P]) string

// RateLimit appends a procedure that consumes one hit from limiter and passes
// the context through. A denied hit fails the invocation with
// TOO_MANY_REQUESTS; a limiter failure is an internal error.
func RateLimit[P any](pb action.ProcedureBuilder[P], limiter ratelimit.Limiter, key KeyFunc[P]) *action.Procedure[P, P] {
	if limiter == nil || key == nil {
		panic("procedures: RateLimit requires a limiter and a key function")
	}
	return action.BuildProcedure(pb, func(ctx context.Context, req action.ProcedureRequest[P]) (P, error) {
		ok, err := limiter.Allow(ctx, key(req))
		if err != nil {
			return req.Ctx, fmt.Errorf("rate limiter: %w", err)
		}
		if !ok {
			return req.Ctx, schema.NewError(schema.ErrCodeTooManyRequests, "Too many requests")
		}
		return req.Ctx, nil
	})
}

// ByPrincipal keys on the authenticated subject.
func ByPrincipal(req action.ProcedureRequest[Principal]) string {
	return "sub:" + req.Ctx.Subject
}

// ByRemoteAddr keys on the client IP of the HTTP request; invocations without
// one share a single bucket.
func ByRemoteAddr[P any](req action.ProcedureRequest[P]) string {
	if req.HTTP == nil {
		return "ip:local"
	}
	return "ip:" + remoteIP(req.HTTP)
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
