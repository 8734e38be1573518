package action

import (
	"context"
	"net/http"
	"time"

	"github.com/rendis/actionkit/internal/engine"
	"github.com/rendis/actionkit/pkg/schema"
)

// ProcedureRequest is what a procedure receives. Procedures see the raw,
// unvalidated arguments: only the terminal action validates input.
type ProcedureRequest[P any] struct {
	// Ctx is the value the previous procedure produced.
	Ctx          P
	Raw          any
	HTTP         *http.Request
	ResponseMeta *schema.ResponseMeta
	Attempt      int
	InvocationID string
}

// ProcedureFunc turns the previous context into the next one. A returned
// error stops the chain and becomes the invocation's result.
type ProcedureFunc[P, C any] func(ctx context.Context, req ProcedureRequest[P]) (C, error)

// ProcedureBuilder accumulates the configuration of a procedure whose
// previous link yields a P.
type ProcedureBuilder[P any] struct {
	cfg config
}

// NewProcedure starts a procedure at the head of a chain.
func NewProcedure(opts ...Option) ProcedureBuilder[NoContext] {
	return ProcedureBuilder[NoContext]{cfg: newConfig(opts)}
}

// ProcedureFor starts a procedure meant to run after one yielding P, for use
// as the second argument of Chain.
func ProcedureFor[P any](opts ...Option) ProcedureBuilder[P] {
	return ProcedureBuilder[P]{cfg: newConfig(opts)}
}

// ProcedureFrom starts a procedure behind parent: it inherits the parent's
// chain, input schema, timeout, retry policy and hooks. Hooks set on the new
// builder override the inherited ones.
func ProcedureFrom[P, C any](parent *Procedure[P, C], opts ...Option) ProcedureBuilder[C] {
	cfg := parent.cfg
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg.chain = parent.steps()
	return ProcedureBuilder[C]{cfg: cfg}
}

// Name labels the procedure when it is resolved on its own.
func (b ProcedureBuilder[P]) Name(name string) ProcedureBuilder[P] {
	b.cfg.name = name
	return b
}

// Input adds an input schema. It is not checked by the procedure itself;
// actions built on it validate the intersection of all schemas.
func (b ProcedureBuilder[P]) Input(s *schema.Schema, kind ...InputKind) ProcedureBuilder[P] {
	b.cfg.inputSchema = schema.AllOf(b.cfg.inputSchema, s)
	if len(kind) > 0 {
		b.cfg.inputKind = kind[0]
	}
	return b
}

// Timeout sets the default timeout of actions built on the procedure.
func (b ProcedureBuilder[P]) Timeout(d time.Duration) ProcedureBuilder[P] {
	b.cfg.timeout = d
	return b
}

// Retry sets the default retry policy of actions built on the procedure.
// Procedures themselves are never retried.
func (b ProcedureBuilder[P]) Retry(p RetryPolicy) ProcedureBuilder[P] {
	b.cfg.retry = &p
	return b
}

// OnStart sets the procedure-level start hook. It fires before the action-level one.
func (b ProcedureBuilder[P]) OnStart(h Hook) ProcedureBuilder[P] {
	b.cfg.hooks.OnStart = h
	return b
}

// OnSuccess sets the procedure-level success hook.
func (b ProcedureBuilder[P]) OnSuccess(h Hook) ProcedureBuilder[P] {
	b.cfg.hooks.OnSuccess = h
	return b
}

// OnError sets the procedure-level error hook. It fires once, after retries.
func (b ProcedureBuilder[P]) OnError(h Hook) ProcedureBuilder[P] {
	b.cfg.hooks.OnError = h
	return b
}

// OnComplete sets the procedure-level completion hook.
func (b ProcedureBuilder[P]) OnComplete(h Hook) ProcedureBuilder[P] {
	b.cfg.hooks.OnComplete = h
	return b
}

// Procedure is a complete, chainable procedure: the chain before it, its own
// step, and the defaults it hands to actions built on it.
type Procedure[P, C any] struct {
	cfg  config
	last engine.Step
}

// BuildProcedure completes b with fn. It panics on a nil fn.
func BuildProcedure[P, C any](b ProcedureBuilder[P], fn ProcedureFunc[P, C]) *Procedure[P, C] {
	if fn == nil {
		panic("action: BuildProcedure called with a nil function")
	}
	return &Procedure[P, C]{cfg: b.cfg, last: procedureStep(fn)}
}

func procedureStep[P, C any](fn ProcedureFunc[P, C]) engine.Step {
	return func(ctx context.Context, env *engine.Env, prev any) (any, error) {
		p, _ := prev.(P)
		c, err := fn(ctx, ProcedureRequest[P]{
			Ctx:          p,
			Raw:          env.Raw,
			HTTP:         env.Request,
			ResponseMeta: env.ResponseMeta,
			Attempt:      env.Attempt,
			InvocationID: env.InvocationID,
		})
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

// Chain joins two procedures: the result runs first's whole chain and then
// second's own step. Its input schema is the intersection of both; hooks,
// timeout and retry come from second, falling back to first where second
// leaves them unset. second's own parents are not included.
func Chain[P, A, B any](first *Procedure[P, A], second *Procedure[A, B]) *Procedure[P, B] {
	cfg := first.cfg
	cfg.chain = first.steps()
	cfg.inputSchema = schema.AllOf(first.cfg.inputSchema, second.cfg.inputSchema)
	cfg.hooks = second.cfg.hooks.Merge(first.cfg.hooks)
	if second.cfg.timeout > 0 {
		cfg.timeout = second.cfg.timeout
	}
	if second.cfg.retry != nil {
		cfg.retry = second.cfg.retry
	}
	if second.cfg.inputKind != InputValue {
		cfg.inputKind = second.cfg.inputKind
	}
	if second.cfg.name != "" {
		cfg.name = second.cfg.name
	}
	return &Procedure[P, B]{cfg: cfg, last: second.last}
}

// steps returns the full chain ending with this procedure's own step.
func (p *Procedure[P, C]) steps() []engine.Step {
	return withStep(p.cfg.chain, p.last)
}

// Len returns the number of links in the chain, this procedure included.
func (p *Procedure[P, C]) Len() int {
	return len(p.cfg.chain) + 1
}

// InputSchema returns the accumulated input schema.
func (p *Procedure[P, C]) InputSchema() *schema.Schema {
	return p.cfg.inputSchema
}

// Resolve runs the chain alone and returns the context it produces. No input
// validation happens and the procedure is never retried.
func (p *Procedure[P, C]) Resolve(ctx context.Context, raw any, opts ...CallOption) (Result[C], error) {
	name := p.cfg.name
	if name == "" {
		name = "procedure"
	}
	def := &engine.Definition{
		Name:           name,
		Chain:          p.steps(),
		Timeout:        p.cfg.timeout,
		ProcedureHooks: p.cfg.hooks,
		IsProcedure:    true,
	}
	value, aErr, sig := p.cfg.runtime.engine.Execute(ctx, def, newCall(raw, opts))
	return toResult[C](value, aErr, sig)
}
