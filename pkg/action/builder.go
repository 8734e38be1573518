package action

import (
	"context"
	"net/http"
	"time"

	"github.com/rendis/actionkit/internal/engine"
	"github.com/rendis/actionkit/pkg/schema"
)

// NoContext is the context of a chain no procedure has contributed to yet.
type NoContext struct{}

// NoInput marks an action that takes no validated input.
type NoInput struct{}

// config is the accumulated builder state. Builders copy it by value; the
// chain slice is never appended to in place.
type config struct {
	runtime     *Runtime
	name        string
	description string

	inputSchema  *schema.Schema
	outputSchema *schema.Schema
	inputKind    engine.InputKind

	chain   []engine.Step
	timeout time.Duration
	retry   *engine.RetryPolicy
	breaker *engine.CircuitBreakerConfig

	procHooks engine.Hooks
	hooks     engine.Hooks
}

func newConfig(opts []Option) config {
	var c config
	for _, opt := range opts {
		opt(&c)
	}
	if c.runtime == nil {
		c.runtime = DefaultRuntime()
	}
	return c
}

// withStep returns the chain with step appended, always on a fresh array.
func withStep(chain []engine.Step, step engine.Step) []engine.Step {
	out := make([]engine.Step, len(chain), len(chain)+1)
	copy(out, chain)
	return append(out, step)
}

// Request is what an action handler receives.
type Request[I, C any] struct {
	// Input is the validated, decoded input.
	Input I
	// Ctx is the value the procedure chain produced.
	Ctx C
	// Raw is the unvalidated arguments as passed by the caller.
	Raw           any
	HTTP          *http.Request
	ResponseMeta  *schema.ResponseMeta
	PreviousState any
	Attempt       int
	InvocationID  string
}

// HandlerFunc is the terminal function of an action.
type HandlerFunc[I, O, C any] func(ctx context.Context, req Request[I, C]) (O, error)

// Builder accumulates the configuration of an action whose procedure chain
// yields a C. Every method returns a new Builder; none mutates the receiver,
// so a builder can be shared as a base for many actions.
type Builder[C any] struct {
	cfg config
}

// New starts an action with an empty procedure chain.
func New(opts ...Option) Builder[NoContext] {
	return Builder[NoContext]{cfg: newConfig(opts)}
}

// FromProcedure starts an action behind p. The action inherits p's chain,
// input schema, timeout and retry policy; p's hooks fire before the action's
// own.
func FromProcedure[P, C any](p *Procedure[P, C], opts ...Option) Builder[C] {
	cfg := p.cfg
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg.name, cfg.description = "", ""
	cfg.chain = p.steps()
	cfg.procHooks = p.cfg.hooks
	cfg.hooks = engine.Hooks{}
	return Builder[C]{cfg: cfg}
}

// Name sets the action name used in logs, metrics and routing.
func (b Builder[C]) Name(name string) Builder[C] {
	b.cfg.name = name
	return b
}

// Describe sets a human-readable description.
func (b Builder[C]) Describe(description string) Builder[C] {
	b.cfg.description = description
	return b
}

// Input sets the input schema. When one is already set (for example by a
// procedure), both must accept the input. kind selects form decoding.
func (b Builder[C]) Input(s *schema.Schema, kind ...InputKind) Builder[C] {
	b.cfg.inputSchema = schema.AllOf(b.cfg.inputSchema, s)
	if len(kind) > 0 {
		b.cfg.inputKind = kind[0]
	}
	return b
}

// Output sets the output schema the handler result is validated against.
func (b Builder[C]) Output(s *schema.Schema) Builder[C] {
	b.cfg.outputSchema = s
	return b
}

// Timeout bounds every attempt. Zero disables the timeout.
func (b Builder[C]) Timeout(d time.Duration) Builder[C] {
	b.cfg.timeout = d
	return b
}

// Retry sets the retry policy.
func (b Builder[C]) Retry(p RetryPolicy) Builder[C] {
	b.cfg.retry = &p
	return b
}

// Breaker enables a circuit breaker for the action.
func (b Builder[C]) Breaker(cfg BreakerConfig) Builder[C] {
	b.cfg.breaker = &cfg
	return b
}

// OnStart sets the action-level start hook, fired before every attempt.
func (b Builder[C]) OnStart(h Hook) Builder[C] {
	b.cfg.hooks.OnStart = h
	return b
}

// OnSuccess sets the action-level success hook.
func (b Builder[C]) OnSuccess(h Hook) Builder[C] {
	b.cfg.hooks.OnSuccess = h
	return b
}

// OnError sets the action-level error hook. It fires once, after retries.
func (b Builder[C]) OnError(h Hook) Builder[C] {
	b.cfg.hooks.OnError = h
	return b
}

// OnComplete sets the action-level completion hook.
func (b Builder[C]) OnComplete(h Hook) Builder[C] {
	b.cfg.hooks.OnComplete = h
	return b
}

// OnInputParseError sets the hook fired when input validation fails.
func (b Builder[C]) OnInputParseError(h Hook) Builder[C] {
	b.cfg.hooks.OnInputParseError = h
	return b
}

// OnOutputParseError sets the hook fired when output validation fails.
func (b Builder[C]) OnOutputParseError(h Hook) Builder[C] {
	b.cfg.hooks.OnOutputParseError = h
	return b
}

// InputSchema returns the accumulated input schema.
func (b Builder[C]) InputSchema() *schema.Schema {
	return b.cfg.inputSchema
}

// Handler compiles b into a callable action. It panics on configuration
// mistakes: a nil fn, a breaker on an unnamed action, or an input type other
// than NoInput or an interface type when no input schema was declared.
func Handler[I, O, C any](b Builder[C], fn HandlerFunc[I, O, C]) *Action[I, O] {
	if fn == nil {
		panic("action: Handler called with a nil handler")
	}
	if b.cfg.inputSchema == nil && !acceptsUnvalidated[I]() {
		panic("action: input type " + typeName[I]() + " requires an input schema")
	}

	cfg := b.cfg
	name := cfg.name
	if name == "" {
		if cfg.breaker != nil {
			panic("action: a circuit breaker requires a named action")
		}
		name = "anonymous"
	}

	def := &engine.Definition{
		Name:           name,
		Description:    cfg.description,
		InputSchema:    cfg.inputSchema,
		OutputSchema:   cfg.outputSchema,
		InputKind:      cfg.inputKind,
		Decode:         decoderFor[I](),
		Chain:          cfg.chain,
		Timeout:        cfg.timeout,
		Retry:          cfg.retry,
		Breaker:        cfg.breaker,
		ProcedureHooks: cfg.procHooks,
		ActionHooks:    cfg.hooks,
		Handler: func(ctx context.Context, env *engine.Env, input any, chainCtx any) (any, error) {
			in, _ := input.(I)
			c, _ := chainCtx.(C)
			out, err := fn(ctx, Request[I, C]{
				Input:         in,
				Ctx:           c,
				Raw:           env.Raw,
				HTTP:          env.Request,
				ResponseMeta:  env.ResponseMeta,
				PreviousState: env.PreviousState,
				Attempt:       env.Attempt,
				InvocationID:  env.InvocationID,
			})
			if err != nil {
				return nil, err
			}
			return out, nil
		},
	}
	return &Action[I, O]{def: def, runtime: cfg.runtime}
}
