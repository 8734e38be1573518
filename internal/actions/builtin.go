package actions

import (
	"github.com/rendis/actionkit/pkg/action"
	"github.com/rendis/actionkit/pkg/procedures"
	"github.com/rendis/actionkit/pkg/ratelimit"
)

// Config holds what the built-in actions need.
type Config struct {
	Runtime *action.Runtime
	HTTP    HTTPConfig
	// Auth enables the whoami action. Nil leaves it out.
	Auth *procedures.JWTConfig
	// Limiter, when set, throttles whoami per principal.
	Limiter ratelimit.Limiter
}

// Builtins returns every built-in action.
func Builtins(cfg Config) []action.Invoker {
	opt := action.UseRuntime(cfg.Runtime)

	all := make([]action.Invoker, 0, 16)

	// Basic actions.
	all = append(all, BasicActions(opt)...)

	// Crypto actions.
	all = append(all, CryptoActions(opt)...)

	// Expression actions.
	all = append(all, ExprActions(opt)...)

	// HTTP actions.
	all = append(all, NewHTTPRequestAction(cfg.HTTP, opt))

	if cfg.Auth != nil {
		all = append(all, NewWhoamiAction(*cfg.Auth, cfg.Limiter, opt))
	}
	return all
}

// RegisterBuiltins registers all built-in actions in the given registry.
func RegisterBuiltins(reg *Registry, cfg Config) error {
	for _, a := range Builtins(cfg) {
		if err := reg.Register(a); err != nil {
			return err
		}
	}
	return nil
}
