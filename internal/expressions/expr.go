package expressions

import (
	"context"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/rendis/actionkit/pkg/schema"
)

// ExprEngine implements the Engine interface using expr-lang/expr. It backs
// the expr.eval builtin action and retry delay expressions: let bindings,
// array operations, nil coalescing (??) and pipes (|) are all available.
// Thread-safe: compiled *vm.Program objects are cached and reused across goroutines.
type ExprEngine struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

// NewExprEngine creates a new Expr expression engine.
func NewExprEngine() *ExprEngine {
	return &ExprEngine{
		cache: make(map[string]*vm.Program),
	}
}

// Name returns the engine identifier.
func (e *ExprEngine) Name() string {
	return "expr"
}

// Evaluate compiles (or retrieves from cache) an Expr expression and evaluates
// it. When data is an object its keys become top-level variables.
func (e *ExprEngine) Evaluate(ctx context.Context, expression string, data any) (any, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeBadRequest, "empty expr expression")
	}

	plain, err := Plain(data)
	if err != nil {
		return nil, err
	}
	env, _ := plain.(map[string]any)
	if env == nil {
		env = map[string]any{}
	}

	prg, err := e.getOrCompile(expression)
	if err != nil {
		return nil, err
	}

	out, err := vm.Run(prg, env)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeUnprocessable,
			"expr evaluation failed for %q: %s", expression, err.Error()).
			WithCause(err).
			WithData(map[string]any{"expression": expression})
	}

	return out, nil
}

// getOrCompile returns a cached compiled program or compiles and caches a new one.
func (e *ExprEngine) getOrCompile(expression string) (*vm.Program, error) {
	e.mu.RLock()
	if prg, ok := e.cache[expression]; ok {
		e.mu.RUnlock()
		return prg, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	// Double-check after acquiring write lock.
	if prg, ok := e.cache[expression]; ok {
		return prg, nil
	}

	// No expr.Env: inputs of different shapes share one program.
	prg, err := expr.Compile(expression, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeBadRequest,
			"expr compile error in %q: %s", expression, err.Error()).
			WithCause(err).
			WithData(map[string]any{"expression": expression})
	}

	e.cache[expression] = prg
	return prg, nil
}

var _ Engine = (*ExprEngine)(nil)
