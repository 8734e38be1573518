package actions

import (
	"testing"

	"github.com/rendis/actionkit/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExprEval(t *testing.T) {
	tests := []struct {
		name string
		in   map[string]any
		want any
	}{
		{"arithmetic", map[string]any{"expression": "1 + 2 * 3"}, 7.0},
		{"data access", map[string]any{"expression": "data.user.name", "data": map[string]any{"user": map[string]any{"name": "ada"}}}, "ada"},
		{"array ops", map[string]any{"expression": "filter(data, # > 1)", "data": []any{1, 2, 3}}, []any{2.0, 3.0}},
		{"nil coalescing", map[string]any{"expression": `data?.missing ?? "fallback"`}, "fallback"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			out, aErr := invokeObject(t, builtin(t, "expr.eval"), tc.in)
			require.Nil(t, aErr)
			assert.Equal(t, tc.want, out["result"])
		})
	}
}

func TestExprEval_Errors(t *testing.T) {
	_, aErr := invoke(t, builtin(t, "expr.eval"), map[string]any{"expression": ""})
	require.NotNil(t, aErr)
	assert.Equal(t, schema.ErrCodeInputParse, aErr.Code)

	_, aErr = invoke(t, builtin(t, "expr.eval"), map[string]any{"expression": "1 +"})
	require.NotNil(t, aErr)
	assert.Equal(t, schema.ErrCodeBadRequest, aErr.Code)
}

func TestJQ(t *testing.T) {
	data := map[string]any{"items": []any{
		map[string]any{"id": 1, "tags": []any{"a"}},
		map[string]any{"id": 2, "tags": []any{"b", "c"}},
	}}

	out, aErr := invokeObject(t, builtin(t, "jq"), map[string]any{"filter": "[.items[].id]", "data": data})
	require.Nil(t, aErr)
	assert.Equal(t, []any{1.0, 2.0}, out["result"])

	out, aErr = invokeObject(t, builtin(t, "jq"), map[string]any{"filter": ".items[0].id", "data": data, "all": true})
	require.Nil(t, aErr)
	assert.Equal(t, []any{1.0}, out["result"])

	out, aErr = invokeObject(t, builtin(t, "jq"), map[string]any{"filter": "empty", "data": data, "all": true})
	require.Nil(t, aErr)
	assert.Equal(t, []any{}, out["result"])
}

func TestJQ_Errors(t *testing.T) {
	_, aErr := invoke(t, builtin(t, "jq"), map[string]any{"filter": ".[", "data": 1})
	require.NotNil(t, aErr)
	assert.Equal(t, schema.ErrCodeBadRequest, aErr.Code)

	_, aErr = invoke(t, builtin(t, "jq"), map[string]any{"filter": `error("boom")`})
	require.NotNil(t, aErr)
	assert.Equal(t, schema.ErrCodeUnprocessable, aErr.Code)
}
