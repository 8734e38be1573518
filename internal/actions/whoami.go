package actions

import (
	"context"

	"github.com/rendis/actionkit/pkg/action"
	"github.com/rendis/actionkit/pkg/procedures"
	"github.com/rendis/actionkit/pkg/ratelimit"
)

// NewWhoamiAction returns the principal of the bearer token on the request.
// A non-nil limiter is consulted per subject after authentication.
func NewWhoamiAction(cfg procedures.JWTConfig, limiter ratelimit.Limiter, opts ...action.Option) *action.Action[action.NoInput, procedures.Principal] {
	auth := procedures.BearerAuth(action.NewProcedure(opts...).Name("auth.bearer"), cfg)
	b := action.FromProcedure(auth)
	if limiter != nil {
		b = action.FromProcedure(procedures.RateLimit(action.ProcedureFrom(auth), limiter, procedures.ByPrincipal))
	}
	b = b.Name("whoami").Describe("Return the authenticated principal")
	return action.Handler(b, func(_ context.Context, req action.Request[action.NoInput, procedures.Principal]) (procedures.Principal, error) {
		return req.Ctx, nil
	})
}
