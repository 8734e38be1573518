package streaming

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/actionkit/internal/logging"
	"github.com/rendis/actionkit/pkg/action"
	"github.com/rendis/actionkit/pkg/schema"
)

func receive(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
		return Event{}
	}
}

func TestHub_FiltersByActionAndStatus(t *testing.T) {
	hub := NewHub()
	all, cancelAll := hub.Subscribe(context.Background(), Filter{})
	defer cancelAll()
	failed, cancelFailed := hub.Subscribe(context.Background(), Filter{
		Action:   "sum",
		Statuses: []schema.InvocationStatus{schema.InvocationStatusFailed},
	})
	defer cancelFailed()

	hub.Publish(Event{InvocationID: "1", Action: "sum", Status: schema.InvocationStatusSuccess})
	hub.Publish(Event{InvocationID: "2", Action: "echo", Status: schema.InvocationStatusFailed})
	hub.Publish(Event{InvocationID: "3", Action: "sum", Status: schema.InvocationStatusFailed})

	assert.Equal(t, "1", receive(t, all).InvocationID)
	assert.Equal(t, "2", receive(t, all).InvocationID)
	assert.Equal(t, "3", receive(t, all).InvocationID)
	assert.Equal(t, "3", receive(t, failed).InvocationID)
	assert.Empty(t, failed)
}

func TestHub_SlowSubscriberDropsEvents(t *testing.T) {
	hub := NewHub()
	_, cancel := hub.Subscribe(context.Background(), Filter{})
	defer cancel()

	for i := 0; i < defaultChannelBuffer+5; i++ {
		hub.Publish(Event{Action: "sum"})
	}
	assert.Equal(t, int64(5), hub.Dropped())
}

func TestHub_CancelAndContextCloseSubscription(t *testing.T) {
	hub := NewHub()
	ch, cancel := hub.Subscribe(context.Background(), Filter{})
	cancel()
	cancel()
	_, ok := <-ch
	assert.False(t, ok)

	ctx, stop := context.WithCancel(context.Background())
	ch, _ = hub.Subscribe(ctx, Filter{})
	stop()
	require.Eventually(t, func() bool { return hub.Subscribers() == 0 }, time.Second, 5*time.Millisecond)
	_, ok = <-ch
	assert.False(t, ok)
}

func TestHub_CancelReleasesWatcher(t *testing.T) {
	hub := NewHub()
	baseline := runtime.NumGoroutine()

	cancels := make([]func(), 0, 50)
	for i := 0; i < 50; i++ {
		_, cancel := hub.Subscribe(context.Background(), Filter{})
		cancels = append(cancels, cancel)
	}
	assert.Greater(t, runtime.NumGoroutine(), baseline+40)

	for _, cancel := range cancels {
		cancel()
	}
	assert.Zero(t, hub.Subscribers())
	require.Eventually(t, func() bool { return runtime.NumGoroutine() <= baseline },
		time.Second, 5*time.Millisecond)
}

func TestHub_ObservesRuntime(t *testing.T) {
	hub := NewHub()
	rt := action.NewRuntime(action.WithLogger(logging.NewNop()), action.WithObserver(hub))
	ch, cancel := hub.Subscribe(context.Background(), Filter{})
	defer cancel()

	inv := action.Handler[action.NoInput, string](action.New(action.UseRuntime(rt)).Name("ping"),
		func(context.Context, action.Request[action.NoInput, action.NoContext]) (string, error) {
			return "pong", nil
		})
	_, err := inv.Invoke(context.Background(), nil, action.WithInvocationID("inv-1"))
	require.NoError(t, err)

	e := receive(t, ch)
	assert.Equal(t, "inv-1", e.InvocationID)
	assert.Equal(t, "ping", e.Action)
	assert.Equal(t, schema.InvocationStatusSuccess, e.Status)
	assert.Equal(t, 1, e.Attempts)
}

func TestHandler_StreamsMatchingEvents(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(Handler(hub, logging.NewNop()))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"?action=sum&status=failed,timed_out", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	require.Eventually(t, func() bool { return hub.Subscribers() == 1 }, 2*time.Second, 5*time.Millisecond)
	hub.Publish(Event{InvocationID: "skip", Action: "sum", Status: schema.InvocationStatusSuccess})
	hub.Publish(Event{InvocationID: "hit", Action: "sum", Status: schema.InvocationStatusTimedOut, Code: schema.ErrCodeTimeout})

	reader := bufio.NewReader(resp.Body)
	var lines []string
	for len(lines) < 3 {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	assert.Equal(t, "id: hit", lines[0])
	assert.Equal(t, "event: timed_out", lines[1])

	var e Event
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(lines[2], "data: ")), &e))
	assert.Equal(t, schema.ErrCodeTimeout, e.Code)
}
