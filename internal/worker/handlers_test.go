package worker

import (
	"context"
	"errors"
	"testing"

	"github.com/cobbzilla/mediagoblin/internal/media"
	"github.com/cobbzilla/mediagoblin/internal/processing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcher_Submit(t *testing.T) {
	broker := &mockBroker{}
	d := NewDispatcher(broker)
	e := media.NewEntry("alice", "clip", "test", nil)

	id, err := d.Submit(context.Background(), e.ID, "http://feed/alice", "", map[string]any{"size": []int{100, 100}})
	require.NoError(t, err)
	require.Len(t, broker.jobs, 1)

	j := broker.jobs[0]
	assert.Equal(t, id, j.ID)

	var payload ProcessPayload
	require.NoError(t, j.UnmarshalPayload(&payload))
	assert.Equal(t, e.ID, payload.EntryID)
	assert.Equal(t, "initial", payload.Action)
	assert.Equal(t, "http://feed/alice", payload.FeedURL)
}

func TestDispatcher_SubmitBrokerError(t *testing.T) {
	d := NewDispatcher(&mockBroker{err: errors.New("redis down")})
	_, err := d.Submit(context.Background(), media.NewEntry("a", "b", "test", nil).ID, "", "initial", nil)
	assert.Error(t, err)
}

func TestProcessMediaHandler(t *testing.T) {
	tests := []struct {
		name      string
		stepErr   error
		wantState media.State
		wantErr   bool
	}{
		{"success", nil, media.StateProcessed, false},
		{"classified failure is absorbed", processing.BadMedia("truncated"), media.StateFailed, false},
		{"unexpected failure reaches the queue", errors.New("segfault"), media.StateFailed, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.manager.AddProcessor(newFuncStep("initial", processing.InitialStates,
				func(context.Context, *processing.Context, processing.Params) error { return tt.stepErr }))
			e := env.createEntry(t, media.StateUnprocessed)

			broker := &mockBroker{}
			_, err := NewDispatcher(broker).Submit(context.Background(), e.ID, "", "", nil)
			require.NoError(t, err)

			err = ProcessMediaHandler(env.exec)(testContext(), broker.jobs[0])
			assert.Equal(t, tt.wantErr, err != nil, "handler error = %v", err)
			assert.Equal(t, tt.wantState, env.get(t, e).State)
		})
	}
}

func TestProcessMediaHandler_InvalidPayload(t *testing.T) {
	env := newTestEnv(t)
	broker := &mockBroker{}
	_, err := NewDispatcher(broker).Submit(context.Background(), [16]byte{}, "", "", nil)
	require.NoError(t, err)

	err = ProcessMediaHandler(env.exec)(testContext(), broker.jobs[0])
	assert.Error(t, err)
}
