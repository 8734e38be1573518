package action_test

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rendis/actionkit/internal/logging"
	"github.com/rendis/actionkit/pkg/action"
	"github.com/rendis/actionkit/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var nSchema = schema.MustParse(`{
  "type": "object",
  "required": ["n"],
  "properties": {"n": {"type": "number"}}
}`)

type nInput struct {
	N float64 `json:"n"`
}

func testRuntime() action.Option {
	return action.UseRuntime(action.NewRuntime(action.WithLogger(logging.NewNop())))
}

func increment() *action.Action[nInput, float64] {
	b := action.New(testRuntime()).Name("increment").Input(nSchema)
	return action.Handler[nInput, float64](b, func(_ context.Context, req action.Request[nInput, action.NoContext]) (float64, error) {
		return req.Input.N + 1, nil
	})
}

func TestAction_BasicSuccess(t *testing.T) {
	res, err := increment().Invoke(context.Background(), map[string]any{"n": 5})
	require.NoError(t, err)
	require.True(t, res.OK())
	assert.Equal(t, 6.0, res.Data)

	data, uerr := res.Unwrap()
	assert.NoError(t, uerr)
	assert.Equal(t, 6.0, data)
}

func TestAction_ValidationFailure(t *testing.T) {
	res, err := increment().Invoke(context.Background(), map[string]any{"n": "abc"})
	require.NoError(t, err)
	require.False(t, res.OK())
	assert.Equal(t, schema.ErrCodeInputParse, res.Err.Code)
	assert.NotEmpty(t, res.Err.FieldErrors["n"])

	_, uerr := res.Unwrap()
	assert.ErrorIs(t, uerr, res.Err)
}

func TestAction_FormValuesCoercedToSchemaTypes(t *testing.T) {
	s := schema.MustParse(`{
	  "type": "object",
	  "required": ["n"],
	  "properties": {"n": {"type": "number"}, "tags": {"type": "array", "items": {"type": "string"}}}
	}`)
	type formIn struct {
		N    float64  `json:"n"`
		Tags []string `json:"tags"`
	}
	b := action.New(testRuntime()).Input(s, action.InputFormData)
	a := action.Handler[formIn, formIn](b, func(_ context.Context, req action.Request[formIn, action.NoContext]) (formIn, error) {
		return req.Input, nil
	})

	res, err := a.Invoke(context.Background(), url.Values{"n": {"2.5"}, "tags": {"only"}})
	require.NoError(t, err)
	require.True(t, res.OK(), "%v", res.Err)
	assert.Equal(t, formIn{N: 2.5, Tags: []string{"only"}}, res.Data)
}

func TestAction_StatefulFormReceivesPreviousState(t *testing.T) {
	type state struct{ Count int }
	b := action.New(testRuntime()).Input(nSchema, action.InputState)
	a := action.Handler[nInput, state](b, func(_ context.Context, req action.Request[nInput, action.NoContext]) (state, error) {
		prev, _ := req.PreviousState.(state)
		return state{Count: prev.Count + int(req.Input.N)}, nil
	})

	res, err := a.Invoke(context.Background(), url.Values{"n": {"3"}}, action.WithPreviousState(state{Count: 4}))
	require.NoError(t, err)
	require.True(t, res.OK())
	assert.Equal(t, 7, res.Data.Count)
	assert.Equal(t, action.InputState, a.InputKind())
}

type user struct {
	ID int `json:"id"`
}

type session struct {
	User user
}

func TestAction_ProcedureContextPropagation(t *testing.T) {
	auth := action.BuildProcedure(action.NewProcedure(testRuntime()),
		func(context.Context, action.ProcedureRequest[action.NoContext]) (session, error) {
			return session{User: user{ID: 1}}, nil
		})

	a := action.Handler[action.NoInput, int](action.FromProcedure(auth),
		func(_ context.Context, req action.Request[action.NoInput, session]) (int, error) {
			return req.Ctx.User.ID, nil
		})

	res, err := a.Invoke(context.Background(), nil)
	require.NoError(t, err)
	require.True(t, res.OK())
	assert.Equal(t, 1, res.Data)
}

func TestAction_ChainOrderDeterministic(t *testing.T) {
	p1 := action.BuildProcedure(action.NewProcedure(testRuntime()),
		func(context.Context, action.ProcedureRequest[action.NoContext]) ([]string, error) {
			return []string{"p1"}, nil
		})
	p2 := action.BuildProcedure(action.ProcedureFrom(p1),
		func(_ context.Context, req action.ProcedureRequest[[]string]) ([]string, error) {
			return append(append([]string(nil), req.Ctx...), "p2"), nil
		})

	a := action.Handler[action.NoInput, []string](action.FromProcedure(p2),
		func(_ context.Context, req action.Request[action.NoInput, []string]) ([]string, error) {
			return req.Ctx, nil
		})

	res, err := a.Invoke(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"p1", "p2"}, res.Data)
	assert.Equal(t, 2, p2.Len())
}

func TestAction_ChainErrorShortCircuit(t *testing.T) {
	denied := schema.NewError(schema.ErrCodeNotAuthorized, "no session")
	var handlerCalls atomic.Int32

	auth := action.BuildProcedure(action.NewProcedure(testRuntime()),
		func(context.Context, action.ProcedureRequest[action.NoContext]) (session, error) {
			return session{}, denied
		})
	a := action.Handler[action.NoInput, int](action.FromProcedure(auth),
		func(context.Context, action.Request[action.NoInput, session]) (int, error) {
			handlerCalls.Add(1)
			return 0, nil
		})

	res, err := a.Invoke(context.Background(), nil)
	require.NoError(t, err)
	assert.Same(t, denied, res.Err)
	assert.Equal(t, int32(0), handlerCalls.Load())
}

func TestAction_ProceduresSeeRawInput(t *testing.T) {
	var seen any
	p := action.BuildProcedure(action.NewProcedure(testRuntime()).Input(nSchema),
		func(_ context.Context, req action.ProcedureRequest[action.NoContext]) (action.NoContext, error) {
			seen = req.Raw
			return action.NoContext{}, nil
		})
	a := action.Handler[nInput, float64](action.FromProcedure(p),
		func(_ context.Context, req action.Request[nInput, action.NoContext]) (float64, error) {
			return req.Input.N, nil
		})

	raw := map[string]any{"n": "bad"}
	res, err := a.Invoke(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, raw, seen, "procedure ran before validation")
	require.NotNil(t, res.Err)
	assert.Equal(t, schema.ErrCodeInputParse, res.Err.Code)
}

func TestAction_TimeoutCheckpoint(t *testing.T) {
	b := action.New(testRuntime()).Timeout(100 * time.Millisecond)
	a := action.Handler[action.NoInput, string](b, func(context.Context, action.Request[action.NoInput, action.NoContext]) (string, error) {
		time.Sleep(500 * time.Millisecond)
		return "late", nil
	})

	start := time.Now()
	res, err := a.Invoke(context.Background(), nil)
	elapsed := time.Since(start)

	require.NoError(t, err)
	require.NotNil(t, res.Err)
	assert.Equal(t, schema.ErrCodeTimeout, res.Err.Code)
	assert.Empty(t, res.Data)
	assert.Less(t, elapsed, 300*time.Millisecond)
}

func TestAction_RetryExhaustion(t *testing.T) {
	var calls atomic.Int32
	b := action.New(testRuntime()).Retry(action.RetryPolicy{MaxAttempts: 3, Delay: 10 * time.Millisecond})
	a := action.Handler[action.NoInput, int](b, func(context.Context, action.Request[action.NoInput, action.NoContext]) (int, error) {
		n := calls.Add(1)
		return 0, schema.NewErrorf(schema.ErrCodeError, "attempt %d failed", n)
	})

	res, err := a.Invoke(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	require.NotNil(t, res.Err)
	assert.Equal(t, "attempt 3 failed", res.Err.Message)
}

func TestAction_BackoffRetryWallClock(t *testing.T) {
	b := action.New(testRuntime()).Retry(action.RetryPolicy{
		MaxAttempts: 3,
		DelayFunc: func(attempt int, _ error) time.Duration {
			return time.Duration(attempt) * 100 * time.Millisecond
		},
	})
	a := action.Handler[action.NoInput, int](b, func(context.Context, action.Request[action.NoInput, action.NoContext]) (int, error) {
		return 0, errors.New("always")
	})

	start := time.Now()
	res, err := a.Invoke(context.Background(), nil)
	require.NoError(t, err)
	require.NotNil(t, res.Err)
	assert.Equal(t, schema.ErrCodeError, res.Err.Code)
	assert.GreaterOrEqual(t, time.Since(start), 500*time.Millisecond)
}

func TestAction_PlainErrorsAreMasked(t *testing.T) {
	a := action.Handler[action.NoInput, int](action.New(testRuntime()),
		func(context.Context, action.Request[action.NoInput, action.NoContext]) (int, error) {
			return 0, errors.New("pq: password authentication failed")
		})

	res, _ := a.Invoke(context.Background(), nil)
	require.NotNil(t, res.Err)
	assert.Equal(t, schema.ErrCodeError, res.Err.Code)
	assert.NotContains(t, res.Err.Message, "password")
}

func TestAction_ControlSignalReturnedAsError(t *testing.T) {
	var completed atomic.Bool
	b := action.New(testRuntime()).OnComplete(func(context.Context, action.HookEvent) { completed.Store(true) })
	a := action.Handler[action.NoInput, int](b, func(context.Context, action.Request[action.NoInput, action.NoContext]) (int, error) {
		return 0, schema.NotFound()
	})

	res, err := a.Invoke(context.Background(), nil)
	sig, ok := schema.AsControlSignal(err)
	require.True(t, ok)
	assert.Equal(t, schema.SignalNotFound, sig.Kind)
	assert.Nil(t, res.Err)
	assert.False(t, completed.Load())
}

func TestAction_HookLayers(t *testing.T) {
	var mu sync.Mutex
	var calls []string
	record := func(name string) action.Hook {
		return func(context.Context, action.HookEvent) {
			mu.Lock()
			calls = append(calls, name)
			mu.Unlock()
		}
	}

	p := action.BuildProcedure(
		action.NewProcedure(testRuntime()).OnStart(record("proc.start")).OnSuccess(record("proc.success")),
		func(context.Context, action.ProcedureRequest[action.NoContext]) (int, error) { return 1, nil })

	b := action.FromProcedure(p).
		OnStart(record("overwritten")).
		OnStart(record("action.start")).
		OnSuccess(record("action.success"))
	a := action.Handler[action.NoInput, int](b, func(_ context.Context, req action.Request[action.NoInput, int]) (int, error) {
		return req.Ctx, nil
	})

	_, err := a.Invoke(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"proc.start", "action.start", "proc.success", "action.success"}, calls)
}

func TestAction_ParseErrorHooks(t *testing.T) {
	var inputErr, outputErr *schema.ActionError
	b := action.New(testRuntime()).
		Input(nSchema).
		Output(schema.MustParse(`{"type":"string"}`)).
		OnInputParseError(func(_ context.Context, ev action.HookEvent) { inputErr = ev.Err }).
		OnOutputParseError(func(_ context.Context, ev action.HookEvent) { outputErr = ev.Err })
	a := action.Handler[nInput, any](b, func(_ context.Context, req action.Request[nInput, action.NoContext]) (any, error) {
		return req.Input.N, nil
	})

	res, _ := a.Invoke(context.Background(), map[string]any{})
	assert.Equal(t, schema.ErrCodeInputParse, res.Err.Code)
	require.NotNil(t, inputErr)
	assert.Equal(t, []string{"Required"}, inputErr.FieldErrors["n"])

	res, _ = a.Invoke(context.Background(), map[string]any{"n": 1})
	assert.Equal(t, schema.ErrCodeOutputParse, res.Err.Code)
	assert.NotNil(t, outputErr)
}

func TestBuilder_Immutable(t *testing.T) {
	base := action.New(testRuntime()).Name("base").Timeout(time.Second)
	withInput := base.Input(nSchema)
	renamed := base.Name("renamed")

	assert.Nil(t, base.InputSchema())
	assert.NotNil(t, withInput.InputSchema())

	a := action.Handler[action.NoInput, int](base, func(context.Context, action.Request[action.NoInput, action.NoContext]) (int, error) {
		return 0, nil
	})
	r := action.Handler[action.NoInput, int](renamed, func(context.Context, action.Request[action.NoInput, action.NoContext]) (int, error) {
		return 0, nil
	})
	assert.Equal(t, "base", a.Name())
	assert.Equal(t, "renamed", r.Name())
}

func TestBuilder_SharedProcedureChainNotMutated(t *testing.T) {
	var order []string
	var mu sync.Mutex
	step := func(name string) func(context.Context, action.ProcedureRequest[int]) (int, error) {
		return func(_ context.Context, req action.ProcedureRequest[int]) (int, error) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return req.Ctx + 1, nil
		}
	}

	root := action.BuildProcedure(action.NewProcedure(testRuntime()),
		func(context.Context, action.ProcedureRequest[action.NoContext]) (int, error) { return 0, nil })
	left := action.BuildProcedure(action.ProcedureFrom(root), step("left"))
	right := action.BuildProcedure(action.ProcedureFrom(root), step("right"))

	ctxOf := func(p *action.Procedure[int, int]) int {
		res, err := p.Resolve(context.Background(), nil)
		require.NoError(t, err)
		require.True(t, res.OK())
		return res.Data
	}
	assert.Equal(t, 1, ctxOf(left))
	assert.Equal(t, 1, ctxOf(right))
	assert.Equal(t, []string{"left", "right"}, order)
	assert.Equal(t, 2, left.Len())
	assert.Equal(t, 2, right.Len())
}

func TestChain_MergesSchemasAndFallsBackHooks(t *testing.T) {
	var started []string
	a := schema.MustParse(`{"type":"object","required":["a"],"properties":{"a":{"type":"string"}}}`)
	bs := schema.MustParse(`{"type":"object","required":["b"],"properties":{"b":{"type":"number"}}}`)

	first := action.BuildProcedure(
		action.NewProcedure(testRuntime()).Input(a).
			OnStart(func(context.Context, action.HookEvent) { started = append(started, "first") }).
			Timeout(time.Second),
		func(context.Context, action.ProcedureRequest[action.NoContext]) (string, error) { return "x", nil })
	second := action.BuildProcedure(
		action.ProcedureFor[string](testRuntime()).Input(bs),
		func(_ context.Context, req action.ProcedureRequest[string]) (string, error) { return req.Ctx + "y", nil })

	chained := action.Chain(first, second)
	assert.Equal(t, 2, chained.Len())

	act := action.Handler[map[string]any, string](action.FromProcedure(chained),
		func(_ context.Context, req action.Request[map[string]any, string]) (string, error) {
			return req.Ctx, nil
		})

	res, err := act.Invoke(context.Background(), map[string]any{"a": "ok", "b": 1})
	require.NoError(t, err)
	require.True(t, res.OK(), "%v", res.Err)
	assert.Equal(t, "xy", res.Data)
	assert.Equal(t, []string{"first"}, started)

	res, _ = act.Invoke(context.Background(), map[string]any{"a": "ok"})
	require.NotNil(t, res.Err)
	assert.Contains(t, res.Err.FieldErrors, "b")
}

func TestProcedure_ResolveNeverRetried(t *testing.T) {
	var calls atomic.Int32
	p := action.BuildProcedure(
		action.NewProcedure(testRuntime()).Retry(action.RetryPolicy{MaxAttempts: 5}),
		func(context.Context, action.ProcedureRequest[action.NoContext]) (int, error) {
			calls.Add(1)
			return 0, errors.New("nope")
		})

	res, err := p.Resolve(context.Background(), nil)
	require.NoError(t, err)
	require.NotNil(t, res.Err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestFromProcedure_InheritsRetryForActions(t *testing.T) {
	var calls atomic.Int32
	p := action.BuildProcedure(
		action.NewProcedure(testRuntime()).Retry(action.RetryPolicy{MaxAttempts: 2}),
		func(context.Context, action.ProcedureRequest[action.NoContext]) (int, error) { return 0, nil })
	a := action.Handler[action.NoInput, int](action.FromProcedure(p),
		func(context.Context, action.Request[action.NoInput, int]) (int, error) {
			calls.Add(1)
			return 0, errors.New("x")
		})

	_, _ = a.Invoke(context.Background(), nil)
	assert.Equal(t, int32(2), calls.Load())
}

func TestHandler_ConfigurationPanics(t *testing.T) {
	assert.PanicsWithValue(t, "action: Handler called with a nil handler", func() {
		action.Handler[action.NoInput, int](action.New(testRuntime()), nil)
	})
	assert.Panics(t, func() {
		action.Handler[nInput, int](action.New(testRuntime()),
			func(context.Context, action.Request[nInput, action.NoContext]) (int, error) { return 0, nil })
	})
	assert.NotPanics(t, func() {
		action.Handler[any, int](action.New(testRuntime()),
			func(context.Context, action.Request[any, action.NoContext]) (int, error) { return 0, nil })
	})
	assert.Panics(t, func() {
		action.BuildProcedure[action.NoContext, int](action.NewProcedure(testRuntime()), nil)
	})
	assert.PanicsWithValue(t, "action: a circuit breaker requires a named action", func() {
		action.Handler[action.NoInput, int](action.New(testRuntime()).Breaker(action.BreakerConfig{}),
			func(context.Context, action.Request[action.NoInput, action.NoContext]) (int, error) { return 0, nil })
	})
}

func TestAction_OverrideArgsWithoutSchema(t *testing.T) {
	a := action.Handler[any, map[string]any](action.New(testRuntime()).Name("echo"),
		func(_ context.Context, req action.Request[any, action.NoContext]) (map[string]any, error) {
			m, _ := req.Input.(map[string]any)
			return m, nil
		})

	res, err := a.Invoke(context.Background(), map[string]any{"a": 1, "b": 2},
		action.WithOverrideArgs(map[string]any{"b": 3}))
	require.NoError(t, err)
	require.True(t, res.OK())
	assert.Equal(t, map[string]any{"a": 1, "b": 3}, res.Data)

	res, err = a.Invoke(context.Background(), nil, action.WithOverrideArgs(map[string]any{"c": true}))
	require.NoError(t, err)
	require.True(t, res.OK())
	assert.Equal(t, map[string]any{"c": true}, res.Data)
}

func TestAction_Introspection(t *testing.T) {
	out := schema.MustParse(`{"type":"number"}`)
	b := action.New(testRuntime()).Name("inc").Describe("adds one").Input(nSchema).Output(out)
	a := action.Handler[nInput, float64](b, func(_ context.Context, req action.Request[nInput, action.NoContext]) (float64, error) {
		return req.Input.N + 1, nil
	})

	var inv action.Invoker = a
	assert.Equal(t, "inc", inv.Name())
	assert.Equal(t, "adds one", inv.Description())
	assert.Same(t, nSchema, inv.InputSchema())
	assert.Same(t, out, inv.OutputSchema())

	value, aErr, sig := inv.InvokeAny(context.Background(), map[string]any{"n": 1})
	require.NoError(t, sig)
	require.Nil(t, aErr)
	assert.Equal(t, 2.0, value)
}

func TestAction_CallOptions(t *testing.T) {
	b := action.New(testRuntime()).Input(nSchema)
	a := action.Handler[nInput, map[string]any](b, func(_ context.Context, req action.Request[nInput, action.NoContext]) (map[string]any, error) {
		req.ResponseMeta.SetStatus(201)
		return map[string]any{"n": req.Input.N, "id": req.InvocationID}, nil
	})

	meta := schema.NewResponseMeta()
	res, err := a.Invoke(context.Background(), map[string]any{"n": 1},
		action.WithOverrideArgs(map[string]any{"n": 9}),
		action.WithResponseMeta(meta),
		action.WithInvocationID("inv-42"))
	require.NoError(t, err)
	require.True(t, res.OK())
	assert.Equal(t, 9.0, res.Data["n"])
	assert.Equal(t, "inv-42", res.Data["id"])
	assert.Equal(t, 201, meta.Status())
}

func TestAction_CircuitBreaker(t *testing.T) {
	rt := action.NewRuntime(action.WithLogger(logging.NewNop()))
	b := action.New(action.UseRuntime(rt)).Name("fragile").Breaker(action.BreakerConfig{FailureThreshold: 1, Cooldown: time.Minute})
	a := action.Handler[action.NoInput, int](b, func(context.Context, action.Request[action.NoInput, action.NoContext]) (int, error) {
		return 0, errors.New("down")
	})

	res, _ := a.Invoke(context.Background(), nil)
	assert.Equal(t, schema.ErrCodeError, res.Err.Code)
	res, _ = a.Invoke(context.Background(), nil)
	assert.Equal(t, schema.ErrCodeServiceUnavailable, res.Err.Code)
	assert.Equal(t, "open", rt.CircuitState("fragile"))
}

func TestAction_ObserverSeesInvocations(t *testing.T) {
	var got []action.Record
	rt := action.NewRuntime(
		action.WithLogger(logging.NewNop()),
		action.WithObserver(action.ObserverFunc(func(_ context.Context, rec action.Record) {
			got = append(got, rec)
		})),
	)
	a := action.Handler[action.NoInput, int](action.New(action.UseRuntime(rt)).Name("observed"),
		func(context.Context, action.Request[action.NoInput, action.NoContext]) (int, error) { return 1, nil })

	_, _ = a.Invoke(context.Background(), nil)
	require.Len(t, got, 1)
	assert.Equal(t, "observed", got[0].Action)
	assert.Equal(t, schema.InvocationStatusSuccess, got[0].Status)
}
