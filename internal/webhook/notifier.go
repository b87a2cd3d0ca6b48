package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cobbzilla/mediagoblin/internal/logger"
	"github.com/cobbzilla/mediagoblin/internal/metrics"
	"github.com/redis/go-redis/v9"
)

const maxResponseBody = 1024

var ErrCircuitOpen = errors.New("webhook: circuit open")

// Observer receives entry status events.
type Observer interface {
	Notify(ctx context.Context, callbackURL string, event *Event) error
}

// Notifier delivers status events to every observer. Delivery is best
// effort: failures are logged and never returned to the caller.
type Notifier struct {
	observers []Observer
}

func NewNotifier(observers ...Observer) *Notifier {
	return &Notifier{observers: observers}
}

func (n *Notifier) Notify(ctx context.Context, callbackURL string, status StatusEvent) {
	log := logger.FromContext(ctx).With("entry_id", status.EntryID, "state", status.State)

	event, err := NewStatusEvent(status)
	if err != nil {
		log.Error("failed to build status event", "error", err)
		return
	}
	for _, o := range n.observers {
		name := fmt.Sprintf("%T", o)
		if err := o.Notify(ctx, callbackURL, event); err != nil {
			metrics.RecordCallbackDelivery(name, "error")
			log.Warn("status observer failed", "observer", name, "error", err)
			continue
		}
		metrics.RecordCallbackDelivery(name, "success")
	}
}

// HTTPObserver POSTs signed events to the entry's callback URL.
type HTTPObserver struct {
	client  *http.Client
	secret  string
	breaker *CircuitBreaker
}

func NewHTTPObserver(client *http.Client, secret string, breaker *CircuitBreaker) *HTTPObserver {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPObserver{client: client, secret: secret, breaker: breaker}
}

func (o *HTTPObserver) Notify(ctx context.Context, callbackURL string, event *Event) error {
	if callbackURL == "" {
		return nil
	}
	if o.breaker != nil && !o.breaker.Allow(callbackURL) {
		return ErrCircuitOpen
	}

	payload, err := event.Marshal()
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, callbackURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "mediagoblin-callback/1.0")
	req.Header.Set("X-Mediagoblin-Event", event.Type)
	if o.secret != "" {
		ts := time.Now()
		req.Header.Set(SignatureHeader, BuildSignatureHeader(GenerateSignature(payload, o.secret, ts), ts))
	}

	resp, err := o.client.Do(req)
	if err != nil {
		o.recordFailure(callbackURL)
		return fmt.Errorf("deliver callback: %w", err)
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	_ = resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		o.recordFailure(callbackURL)
		return fmt.Errorf("callback returned %d: %s", resp.StatusCode, body)
	}
	if o.breaker != nil {
		o.breaker.RecordSuccess(callbackURL)
	}
	return nil
}

func (o *HTTPObserver) recordFailure(url string) {
	if o.breaker != nil {
		o.breaker.RecordFailure(url)
	}
}

// RedisObserver publishes events on "<prefix>:<entry id>".
type RedisObserver struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisObserver(client redis.UniversalClient, prefix string) *RedisObserver {
	return &RedisObserver{client: client, prefix: prefix}
}

func (o *RedisObserver) Channel(entryID string) string {
	return o.prefix + ":" + entryID
}

func (o *RedisObserver) Notify(ctx context.Context, _ string, event *Event) error {
	var status StatusEvent
	if err := json.Unmarshal(event.Data, &status); err != nil {
		return fmt.Errorf("decode status: %w", err)
	}
	payload, err := event.Marshal()
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return o.client.Publish(ctx, o.Channel(status.EntryID), payload).Err()
}

// LogObserver writes events to a logger. Used when no other observer is
// configured.
type LogObserver struct {
	log *slog.Logger
}

func NewLogObserver(log *slog.Logger) *LogObserver {
	return &LogObserver{log: log}
}

func (o *LogObserver) Notify(ctx context.Context, callbackURL string, event *Event) error {
	o.log.Info("entry status", "event_type", event.Type, "event_id", event.ID, "data", string(event.Data))
	return nil
}
