package actions

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/rendis/actionkit/internal/logging"
	"github.com/rendis/actionkit/pkg/action"
	"github.com/rendis/actionkit/pkg/schema"
	"github.com/stretchr/testify/require"
)

var testRuntime = action.NewRuntime(action.WithLogger(logging.NewNop()))

func testConfig() Config {
	return Config{Runtime: testRuntime}
}

func builtin(t *testing.T, name string) action.Invoker {
	t.Helper()
	for _, inv := range Builtins(testConfig()) {
		if inv.Name() == name {
			return inv
		}
	}
	t.Fatalf("builtin %s not found", name)
	return nil
}

// invoke runs inv and returns its output in JSON shape.
func invoke(t *testing.T, inv action.Invoker, raw any, opts ...action.CallOption) (any, *schema.ActionError) {
	t.Helper()
	value, aErr, sig := inv.InvokeAny(context.Background(), raw, opts...)
	require.NoError(t, sig)
	if aErr != nil {
		return nil, aErr
	}
	b, err := json.Marshal(value)
	require.NoError(t, err)
	var out any
	require.NoError(t, json.Unmarshal(b, &out))
	return out, nil
}

func invokeObject(t *testing.T, inv action.Invoker, raw any) (map[string]any, *schema.ActionError) {
	t.Helper()
	out, aErr := invoke(t, inv, raw)
	if aErr != nil {
		return nil, aErr
	}
	m, ok := out.(map[string]any)
	require.True(t, ok, "output should be an object, got %T", out)
	return m, nil
}
