package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/rendis/actionkit/internal/validation"
	"github.com/rendis/actionkit/pkg/schema"
)

// attemptState is the per-attempt timeout flag and progress marker. The
// pipeline goroutine writes it; the racing caller reads it.
type attemptState struct {
	timeout  time.Duration
	timedOut atomic.Bool
	state    atomic.Value
}

func newAttemptState(timeout time.Duration) *attemptState {
	as := &attemptState{timeout: timeout}
	as.state.Store(schema.StatePending)
	return as
}

func (as *attemptState) set(s schema.State) { as.state.Store(s) }

func (as *attemptState) current() schema.State { return as.state.Load().(schema.State) }

// checkpoint aborts forward progress once the timer has fired.
func (as *attemptState) checkpoint() error {
	if as.timedOut.Load() {
		return as.timeoutError()
	}
	return nil
}

func (as *attemptState) timeoutError() *schema.ActionError {
	return schema.NewErrorf(schema.ErrCodeTimeout, "action timed out after %s", as.timeout)
}

type attemptResult struct {
	value any
	err   error
}

// runAttempt runs one pass of the pipeline. With a timeout, the pipeline runs
// on its own goroutine raced against a timer; the loser is abandoned and the
// checkpoints stop it from making further progress.
func (e *Engine) runAttempt(ctx context.Context, def *Definition, call *Call, attempt int) (any, schema.State, error) {
	as := newAttemptState(def.Timeout)
	if def.Timeout <= 0 {
		v, err := e.pipeline(ctx, def, call, attempt, as)
		return v, as.current(), err
	}

	pctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan attemptResult, 1)
	go func() {
		v, err := e.pipeline(pctx, def, call, attempt, as)
		done <- attemptResult{value: v, err: err}
	}()

	timer := time.NewTimer(def.Timeout)
	defer timer.Stop()

	select {
	case r := <-done:
		return r.value, as.current(), r.err
	case <-timer.C:
		as.timedOut.Store(true)
		return nil, as.current(), as.timeoutError()
	case <-ctx.Done():
		as.timedOut.Store(true)
		return nil, as.current(), ctx.Err()
	}
}

// pipeline runs start hooks, the chain, input parsing, the handler, output
// validation and success hooks. Any panic becomes an ERROR.
func (e *Engine) pipeline(ctx context.Context, def *Definition, call *Call, attempt int, as *attemptState) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = schema.Normalize(fmt.Errorf("panic: %v", r))
		}
	}()

	env := &Env{
		InvocationID:  call.InvocationID,
		Action:        def.Name,
		Attempt:       attempt,
		Raw:           call.Raw,
		Request:       call.Request,
		ResponseMeta:  call.ResponseMeta,
		PreviousState: call.PreviousState,
	}
	ev := HookEvent{
		InvocationID: call.InvocationID,
		Action:       def.Name,
		Attempt:      attempt,
		Raw:          call.Raw,
	}

	for _, h := range []Hook{def.ProcedureHooks.OnStart, def.ActionHooks.OnStart} {
		if err := as.checkpoint(); err != nil {
			return nil, err
		}
		e.fire(ctx, "onStart", h, ev)
	}

	as.set(schema.StateRunningChain)
	var chainCtx any
	for _, step := range def.Chain {
		if err := as.checkpoint(); err != nil {
			return nil, err
		}
		next, err := step(ctx, env, chainCtx)
		if err != nil {
			return nil, err
		}
		chainCtx = next
	}

	if def.IsProcedure || def.Handler == nil {
		out = chainCtx
	} else {
		as.set(schema.StateValidatingInput)
		if err := as.checkpoint(); err != nil {
			return nil, err
		}
		input, err := e.parseInput(ctx, def, call, ev)
		if err != nil {
			return nil, err
		}

		as.set(schema.StateRunningHandler)
		if err := as.checkpoint(); err != nil {
			return nil, err
		}
		out, err = def.Handler(ctx, env, input, chainCtx)
		if err != nil {
			return nil, err
		}

		as.set(schema.StateValidatingOutput)
		if err := as.checkpoint(); err != nil {
			return nil, err
		}
		if err := e.validateOutput(ctx, def, out, ev); err != nil {
			return nil, err
		}
	}

	ev.Data = out
	for _, step := range []struct {
		name string
		hook Hook
	}{
		{"onSuccess", def.ProcedureHooks.OnSuccess},
		{"onSuccess", def.ActionHooks.OnSuccess},
		{"onComplete", def.ProcedureHooks.OnComplete},
		{"onComplete", def.ActionHooks.OnComplete},
	} {
		if err := as.checkpoint(); err != nil {
			return nil, err
		}
		e.fire(ctx, step.name, step.hook, ev)
	}
	return out, nil
}

// parseInput turns raw arguments into the handler input. Without an input
// schema the raw arguments pass through, with any override merged in.
func (e *Engine) parseInput(ctx context.Context, def *Definition, call *Call, ev HookEvent) (any, error) {
	if def.InputSchema == nil {
		if len(call.Override) > 0 {
			return applyOverride(call.Raw, call.Override), nil
		}
		return call.Raw, nil
	}

	value, err := plainValue(def.InputSchema, call.Raw)
	if err != nil {
		issues := &schema.Issues{}
		issues.AddForm("Malformed input: " + err.Error())
		return nil, e.inputParseError(ctx, def, ev, issues)
	}
	if len(call.Override) > 0 {
		value = applyOverride(value, call.Override)
	}

	issues, err := e.validator.Validate(def.InputSchema, value)
	if err != nil {
		return nil, fmt.Errorf("input schema of %q: %w", def.Name, err)
	}
	if !issues.Empty() {
		return nil, e.inputParseError(ctx, def, ev, issues)
	}

	if def.Decode == nil {
		return value, nil
	}
	decoded, err := def.Decode(value)
	if err != nil {
		issues := &schema.Issues{}
		issues.AddForm(err.Error())
		return nil, e.inputParseError(ctx, def, ev, issues)
	}
	return decoded, nil
}

func (e *Engine) inputParseError(ctx context.Context, def *Definition, ev HookEvent, issues *schema.Issues) *schema.ActionError {
	pErr := issues.ToError(schema.ErrCodeInputParse)
	ev.Err = pErr
	e.fire(ctx, "onInputParseError", def.ProcedureHooks.OnInputParseError, ev)
	e.fire(ctx, "onInputParseError", def.ActionHooks.OnInputParseError, ev)
	return pErr
}

// validateOutput checks the handler result. Raw responses and actions
// without an output schema are not checked.
func (e *Engine) validateOutput(ctx context.Context, def *Definition, out any, ev HookEvent) error {
	if def.OutputSchema == nil {
		return nil
	}
	if _, raw := out.(*schema.RawResponse); raw {
		return nil
	}
	issues, err := e.validator.Validate(def.OutputSchema, out)
	if err != nil {
		return fmt.Errorf("output schema of %q: %w", def.Name, err)
	}
	if issues.Empty() {
		return nil
	}
	pErr := issues.ToError(schema.ErrCodeOutputParse)
	ev.Data = out
	ev.Err = pErr
	e.fire(ctx, "onOutputParseError", def.ProcedureHooks.OnOutputParseError, ev)
	e.fire(ctx, "onOutputParseError", def.ActionHooks.OnOutputParseError, ev)
	return pErr
}

// plainValue converts transport encodings into the JSON-shaped value the
// validator expects: forms are decoded against s, raw JSON is unmarshalled.
func plainValue(s *schema.Schema, raw any) (any, error) {
	switch v := raw.(type) {
	case url.Values:
		return validation.DecodeForm(s, v), nil
	case map[string][]string:
		return validation.DecodeForm(s, v), nil
	case json.RawMessage:
		return decodeJSON(v)
	case []byte:
		return decodeJSON(v)
	}
	return raw, nil
}

func decodeJSON(b []byte) (any, error) {
	if len(bytes.TrimSpace(b)) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// applyOverride shallow-merges override onto an object value. Non-object
// values are converted through JSON first; values that are not objects at
// all are returned unchanged.
func applyOverride(value any, override map[string]any) any {
	var obj map[string]any
	switch v := value.(type) {
	case nil:
		obj = map[string]any{}
	case map[string]any:
		obj = make(map[string]any, len(v)+len(override))
		for k, x := range v {
			obj[k] = x
		}
	default:
		b, err := json.Marshal(v)
		if err != nil || json.Unmarshal(b, &obj) != nil || obj == nil {
			return value
		}
	}
	for k, x := range override {
		obj[k] = x
	}
	return obj
}
