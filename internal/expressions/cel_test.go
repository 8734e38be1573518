package expressions

import (
	"context"
	"sync"
	"testing"

	"github.com/rendis/actionkit/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCELEngine(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)
	assert.Equal(t, "cel", e.Name())
}

type principal struct {
	Subject string   `json:"sub"`
	Roles   []string `json:"roles"`
}

func TestCEL_GuardPredicates(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	data := map[string]any{
		"ctx":     principal{Subject: "u-1", Roles: []string{"admin"}},
		"input":   map[string]any{"n": 5, "owner": "u-1"},
		"request": map[string]any{"method": "POST"},
	}

	tests := []struct {
		name string
		expr string
		want bool
	}{
		{"role membership", `"admin" in ctx.roles`, true},
		{"missing role", `"auditor" in ctx.roles`, false},
		{"ownership", `input.owner == ctx.sub`, true},
		{"numeric input", `input.n > 3.0`, true},
		{"request method", `request.method == "GET"`, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := e.EvaluateBool(context.Background(), tc.expr, data)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestCEL_MissingVariablesDefaultToEmptyMaps(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	out, err := e.Evaluate(context.Background(), `size(input) == 0`, nil)
	require.NoError(t, err)
	assert.Equal(t, true, out)
}

func TestCEL_Errors(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)
	ctx := context.Background()

	_, err = e.Evaluate(ctx, "", nil)
	aErr, ok := schema.AsActionError(err)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeBadRequest, aErr.Code)

	err = e.Compile(`input.n >`)
	aErr, ok = schema.AsActionError(err)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeBadRequest, aErr.Code)

	_, err = e.EvaluateBool(ctx, `1 + 1`, nil)
	aErr, ok = schema.AsActionError(err)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeUnprocessable, aErr.Code)

	_, err = e.Evaluate(ctx, `input.missing.deeper == 1`, nil)
	aErr, ok = schema.AsActionError(err)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeUnprocessable, aErr.Code)
}

func TestCEL_ConcurrentEvaluation(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			out, err := e.Evaluate(context.Background(), `input.n * 2.0`, map[string]any{"input": map[string]any{"n": n}})
			assert.NoError(t, err)
			assert.Equal(t, float64(n*2), out)
		}(i)
	}
	wg.Wait()
}
