package actions

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rendis/actionkit/pkg/action"
	"github.com/rendis/actionkit/pkg/procedures"
	"github.com/rendis/actionkit/pkg/ratelimit"
	"github.com/rendis/actionkit/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestEcho(t *testing.T) {
	out, aErr := invoke(t, builtin(t, "echo"), map[string]any{"a": []any{1, "two"}})
	require.Nil(t, aErr)
	assert.Equal(t, map[string]any{"a": []any{1.0, "two"}}, out)
}

func TestSum(t *testing.T) {
	out, aErr := invokeObject(t, builtin(t, "sum"), map[string]any{"numbers": []any{1, 2.5, 3}})
	require.Nil(t, aErr)
	assert.Equal(t, 6.5, out["sum"])
	assert.Equal(t, 3.0, out["count"])
}

func TestSum_Validation(t *testing.T) {
	_, aErr := invoke(t, builtin(t, "sum"), map[string]any{"numbers": []any{}})
	require.NotNil(t, aErr)
	assert.Equal(t, schema.ErrCodeInputParse, aErr.Code)
	assert.NotEmpty(t, aErr.FieldErrors["numbers"])

	_, aErr = invoke(t, builtin(t, "sum"), map[string]any{"numbers": []any{"x"}})
	require.NotNil(t, aErr)
	assert.Equal(t, schema.ErrCodeInputParse, aErr.Code)
}

func TestWhoami(t *testing.T) {
	cfg := procedures.JWTConfig{Secret: []byte("whoami-secret")}
	inv := NewWhoamiAction(cfg, nil, action.UseRuntime(testRuntime))

	token, err := procedures.IssueToken(procedures.Principal{Subject: "svc-1", Roles: []string{"ops"}}, cfg, time.Minute)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	out, aErr := invoke(t, inv, nil, action.WithRequest(req))
	require.Nil(t, aErr)
	m := out.(map[string]any)
	assert.Equal(t, "svc-1", m["sub"])

	_, aErr = invoke(t, inv, nil)
	require.NotNil(t, aErr)
	assert.Equal(t, schema.ErrCodeNotAuthorized, aErr.Code)
}

func TestWhoami_RateLimitedPerSubject(t *testing.T) {
	cfg := procedures.JWTConfig{Secret: []byte("whoami-secret")}
	inv := NewWhoamiAction(cfg, ratelimit.NewMemory(rate.Every(time.Hour), 1), action.UseRuntime(testRuntime))

	call := func(sub string) *schema.ActionError {
		token, err := procedures.IssueToken(procedures.Principal{Subject: sub}, cfg, time.Minute)
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		_, aErr := invoke(t, inv, nil, action.WithRequest(req))
		return aErr
	}

	require.Nil(t, call("a"))
	aErr := call("a")
	require.NotNil(t, aErr)
	assert.Equal(t, schema.ErrCodeTooManyRequests, aErr.Code)
	assert.Nil(t, call("b"))
}
