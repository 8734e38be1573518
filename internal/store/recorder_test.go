package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/actionkit/internal/logging"
	"github.com/rendis/actionkit/pkg/action"
	"github.com/rendis/actionkit/pkg/schema"
)

func TestRecorder_WritesObservedInvocations(t *testing.T) {
	s := newTestStore(t)
	rec := NewRecorder(s, logging.NewNop(), 0)

	rt := action.NewRuntime(action.WithLogger(logging.NewNop()), action.WithObserver(rec))
	inc := action.Handler(action.New(action.UseRuntime(rt)).Name("fail.once"),
		func(context.Context, action.Request[action.NoInput, action.NoContext]) (int, error) {
			return 0, schema.NewError(schema.ErrCodeConflict, "taken")
		})

	res, err := inc.Invoke(context.Background(), nil, action.WithInvocationID("inv-1"))
	require.NoError(t, err)
	require.False(t, res.OK())

	rec.Close()

	got, err := s.GetInvocation(context.Background(), "inv-1")
	require.NoError(t, err)
	assert.Equal(t, "fail.once", got.Action)
	assert.Equal(t, schema.InvocationStatusFailed, got.Status)
	assert.Equal(t, schema.ErrCodeConflict, got.Code)
	assert.Contains(t, string(got.Error), "taken")
}

func TestRecorder_CloseIsIdempotentAndDropsLateRecords(t *testing.T) {
	s := newTestStore(t)
	rec := NewRecorder(s, logging.NewNop(), 1)
	rec.Close()
	rec.Close()

	rec.Observe(context.Background(), action.Record{InvocationID: "late", Action: "x", StartedAt: time.Now()})
	_, err := s.GetInvocation(context.Background(), "late")
	assert.Error(t, err)
}

type failingStore struct {
	Store
	calls chan struct{}
}

func (f *failingStore) RecordInvocation(context.Context, *Invocation) error {
	f.calls <- struct{}{}
	return errors.New("disk full")
}

func TestRecorder_StoreErrorsAreLogged(t *testing.T) {
	fs := &failingStore{calls: make(chan struct{}, 1)}
	rec := NewRecorder(fs, logging.NewNop(), 1)
	rec.Observe(context.Background(), action.Record{InvocationID: "a", Action: "x"})

	select {
	case <-fs.calls:
	case <-time.After(time.Second):
		t.Fatal("record was never written")
	}
	rec.Close()
}

func TestFromRecord(t *testing.T) {
	started := time.Now()
	inv := FromRecord(action.Record{
		InvocationID: "id",
		Action:       "sum",
		Status:       schema.InvocationStatusSuccess,
		State:        schema.StateSuccess,
		Attempts:     2,
		StartedAt:    started,
		Duration:     time.Second,
	})
	assert.Equal(t, &Invocation{
		ID: "id", Action: "sum", Status: schema.InvocationStatusSuccess, State: schema.StateSuccess,
		Attempts: 2, StartedAt: started, Duration: time.Second,
	}, inv)
}
