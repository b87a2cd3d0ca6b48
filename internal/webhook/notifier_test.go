package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cobbzilla/mediagoblin/internal/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockObserver struct {
	mock.Mock
}

func (m *mockObserver) Notify(ctx context.Context, callbackURL string, event *Event) error {
	args := m.Called(ctx, callbackURL, event)
	return args.Error(0)
}

func TestStatusFromEntry(t *testing.T) {
	e := media.NewEntry("alice", "clip", "video", nil)
	e.State = media.StateFailed
	e.FailError = "bad_media"
	e.FailMetadata = map[string]any{"kind": "media_defect"}

	status := StatusFromEntry(e, "The file could not be read.")
	event, err := NewStatusEvent(status)
	require.NoError(t, err)
	assert.Equal(t, EventEntryFailed, event.Type)

	var got StatusEvent
	require.NoError(t, json.Unmarshal(event.Data, &got))
	assert.Equal(t, e.ID.String(), got.EntryID)
	assert.Equal(t, "failed", got.State)
	assert.Equal(t, "bad_media", got.FailError)
}

func TestNotifier_ContinuesPastFailingObserver(t *testing.T) {
	failing := new(mockObserver)
	failing.On("Notify", mock.Anything, "http://cb", mock.AnythingOfType("*webhook.Event")).Return(assert.AnError)
	ok := new(mockObserver)
	ok.On("Notify", mock.Anything, "http://cb", mock.AnythingOfType("*webhook.Event")).Return(nil)

	n := NewNotifier(failing, ok)
	n.Notify(context.Background(), "http://cb", StatusEvent{EntryID: "e1", State: "processed"})

	failing.AssertExpectations(t)
	ok.AssertExpectations(t)
}

func TestHTTPObserver_SignsPayload(t *testing.T) {
	const secret = "s3cret"
	var gotSig, gotEvent string
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get(SignatureHeader)
		gotEvent = r.Header.Get("X-Mediagoblin-Event")
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	obs := NewHTTPObserver(srv.Client(), secret, NewCircuitBreaker(3, time.Minute))
	event, _ := NewStatusEvent(StatusEvent{EntryID: "e1", State: "processed"})
	require.NoError(t, obs.Notify(context.Background(), srv.URL, event))

	assert.Equal(t, EventEntryProcessed, gotEvent)
	sig, ts, err := ParseSignatureHeader(gotSig)
	require.NoError(t, err)
	assert.True(t, VerifySignature(body, sig, secret, ts, time.Minute))
}

func TestHTTPObserver_SkipsEmptyURL(t *testing.T) {
	obs := NewHTTPObserver(nil, "", nil)
	event, _ := NewStatusEvent(StatusEvent{EntryID: "e1", State: "processed"})
	assert.NoError(t, obs.Notify(context.Background(), "", event))
}

func TestHTTPObserver_CircuitOpens(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	obs := NewHTTPObserver(srv.Client(), "", NewCircuitBreaker(2, time.Hour))
	event, _ := NewStatusEvent(StatusEvent{EntryID: "e1", State: "failed"})
	for i := 0; i < 4; i++ {
		_ = obs.Notify(context.Background(), srv.URL, event)
	}
	assert.EqualValues(t, 2, hits.Load())
	assert.ErrorIs(t, obs.Notify(context.Background(), srv.URL, event), ErrCircuitOpen)
}

func TestCircuitBreaker_Recovery(t *testing.T) {
	now := time.Now()
	cb := NewCircuitBreaker(2, time.Minute)
	cb.now = func() time.Time { return now }

	cb.RecordFailure("hub")
	assert.Equal(t, CircuitClosed, cb.State("hub"))
	cb.RecordFailure("hub")
	assert.Equal(t, CircuitOpen, cb.State("hub"))
	assert.False(t, cb.Allow("hub"))

	now = now.Add(2 * time.Minute)
	assert.True(t, cb.Allow("hub"))
	assert.Equal(t, CircuitHalfOpen, cb.State("hub"))

	cb.RecordFailure("hub")
	assert.Equal(t, CircuitOpen, cb.State("hub"), "failed trial reopens")

	now = now.Add(2 * time.Minute)
	assert.True(t, cb.Allow("hub"))
	cb.RecordSuccess("hub")
	assert.Equal(t, CircuitClosed, cb.State("hub"))
	assert.Equal(t, "closed", cb.State("other").String())
}
