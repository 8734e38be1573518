package expressions

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/rendis/actionkit/pkg/schema"
)

// celVariables are the top-level names a guard expression can reference.
var celVariables = []string{"ctx", "input", "request"}

// CELEngine implements the Engine interface using Google's Common Expression Language.
// It evaluates guard predicates over the procedure context, the raw input and
// request metadata.
// Thread-safe: compiled programs are cached and reused across goroutines.
type CELEngine struct {
	env *cel.Env

	mu    sync.RWMutex
	cache map[string]cel.Program
}

// NewCELEngine creates a new CEL expression engine. The environment exposes:
//   - ctx:     dyn, the value produced by the procedure chain so far
//   - input:   dyn, the raw invocation arguments
//   - request: map(string, dyn), method/path/headers of the transport request
func NewCELEngine() (*CELEngine, error) {
	env, err := cel.NewEnv(
		cel.Variable("ctx", cel.DynType),
		cel.Variable("input", cel.DynType),
		cel.Variable("request", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}

	return &CELEngine{
		env:   env,
		cache: make(map[string]cel.Program),
	}, nil
}

// Name returns the engine identifier.
func (e *CELEngine) Name() string {
	return "cel"
}

// Compile checks expression and caches the program.
func (e *CELEngine) Compile(expression string) error {
	_, err := e.getOrCompile(expression)
	return err
}

// Evaluate compiles (or retrieves from cache) a CEL expression and evaluates it.
// data must be an object whose keys match the environment variables; missing
// keys default to empty maps.
func (e *CELEngine) Evaluate(ctx context.Context, expression string, data any) (any, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeBadRequest, "empty CEL expression")
	}

	prg, err := e.getOrCompile(expression)
	if err != nil {
		return nil, err
	}

	activation, err := buildActivation(data)
	if err != nil {
		return nil, err
	}

	out, _, err := prg.ContextEval(ctx, activation)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeUnprocessable,
			"CEL evaluation failed for %q: %s", expression, err.Error()).
			WithCause(err).
			WithData(map[string]any{"expression": expression})
	}

	return out.Value(), nil
}

// EvaluateBool evaluates a predicate. Non-boolean results are an error.
func (e *CELEngine) EvaluateBool(ctx context.Context, expression string, data any) (bool, error) {
	out, err := e.Evaluate(ctx, expression, data)
	if err != nil {
		return false, err
	}
	b, ok := out.(bool)
	if !ok {
		return false, schema.NewErrorf(schema.ErrCodeUnprocessable,
			"CEL expression %q returned %T, want bool", expression, out)
	}
	return b, nil
}

// getOrCompile returns a cached compiled program or compiles and caches a new one.
func (e *CELEngine) getOrCompile(expression string) (cel.Program, error) {
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

	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, schema.NewErrorf(schema.ErrCodeBadRequest,
			"CEL compile error in %q: %s", expression, issues.Err().Error()).
			WithCause(issues.Err()).
			WithData(map[string]any{"expression": expression})
	}

	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeBadRequest,
			"CEL program error for %q: %s", expression, err.Error()).
			WithCause(err).
			WithData(map[string]any{"expression": expression})
	}

	e.cache[expression] = prg
	return prg, nil
}

// buildActivation creates the evaluation activation map from the data.
// Missing keys default to empty maps to prevent CEL runtime nil-ref errors.
func buildActivation(data any) (map[string]any, error) {
	plain, err := Plain(data)
	if err != nil {
		return nil, err
	}
	obj, _ := plain.(map[string]any)

	activation := make(map[string]any, len(celVariables))
	for _, key := range celVariables {
		if v, ok := obj[key]; ok && v != nil {
			activation[key] = v
		} else {
			activation[key] = map[string]any{}
		}
	}
	return activation, nil
}

var _ Engine = (*CELEngine)(nil)
