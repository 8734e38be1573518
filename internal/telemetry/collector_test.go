package telemetry

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/actionkit/internal/logging"
	"github.com/rendis/actionkit/pkg/action"
	"github.com/rendis/actionkit/pkg/schema"
)

func TestCollector_Observe(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	ctx := context.Background()

	c.Observe(ctx, action.Record{Action: "sum", Attempts: 1, Duration: 20 * time.Millisecond})
	c.Observe(ctx, action.Record{Action: "sum", Attempts: 3, Code: schema.ErrCodeTimeout, Duration: time.Second})
	c.Observe(ctx, action.Record{Action: "echo", Attempts: 1})

	assert.Equal(t, 1.0, testutil.ToFloat64(c.invocations.WithLabelValues("sum", "OK")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.invocations.WithLabelValues("sum", schema.ErrCodeTimeout)))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.retries.WithLabelValues("sum")))
	assert.Equal(t, 2, testutil.CollectAndCount(c.duration))

	expected := `
# HELP actionkit_retries_total Total re-invocations after a failed attempt by action name
# TYPE actionkit_retries_total counter
actionkit_retries_total{action="sum"} 2
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "actionkit_retries_total"))
}

func TestCollector_AsRuntimeObserver(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	rt := action.NewRuntime(action.WithLogger(logging.NewNop()), action.WithObserver(c))

	calls := 0
	flaky := action.Handler(
		action.New(action.UseRuntime(rt)).Name("flaky").Retry(action.RetryPolicy{MaxAttempts: 3}),
		func(context.Context, action.Request[action.NoInput, action.NoContext]) (string, error) {
			calls++
			if calls < 2 {
				return "", schema.NewError(schema.ErrCodeServiceUnavailable, "try again")
			}
			return "ok", nil
		})

	res, err := flaky.Invoke(context.Background(), nil)
	require.NoError(t, err)
	require.True(t, res.OK())

	assert.Equal(t, 1.0, testutil.ToFloat64(c.invocations.WithLabelValues("flaky", "OK")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.retries.WithLabelValues("flaky")))
}

func TestNewCollector_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewCollector(reg)
	assert.Panics(t, func() { NewCollector(reg) })
}
