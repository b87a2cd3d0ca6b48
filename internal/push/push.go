// Package push notifies PubSubHubbub hubs that a feed changed.
package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cobbzilla/mediagoblin/internal/logger"
	"github.com/cobbzilla/mediagoblin/internal/metrics"
	"github.com/cobbzilla/mediagoblin/internal/webhook"
	"github.com/hibiken/asynq"
)

const (
	TypePublish = "push:publish"
	QueueName   = "push"
)

var ErrHubUnavailable = errors.New("push: hub circuit open")

type Payload struct {
	HubURL  string `json:"hub_url"`
	FeedURL string `json:"feed_url"`
}

// Publisher sends a single publish ping.
type Publisher struct {
	client  *http.Client
	breaker *webhook.CircuitBreaker
}

func NewPublisher(client *http.Client, breaker *webhook.CircuitBreaker) *Publisher {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Publisher{client: client, breaker: breaker}
}

func (p *Publisher) Publish(ctx context.Context, hubURL, feedURL string) error {
	if p.breaker != nil && !p.breaker.Allow(hubURL) {
		return ErrHubUnavailable
	}

	form := url.Values{}
	form.Set("hub.mode", "publish")
	form.Set("hub.url", feedURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hubURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Connection", "close")
	req.Close = true

	resp, err := p.client.Do(req)
	if err != nil {
		p.failure(hubURL)
		return fmt.Errorf("publish to %s: %w", hubURL, err)
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
	_ = resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		p.failure(hubURL)
		return fmt.Errorf("publish to %s: status %d", hubURL, resp.StatusCode)
	}
	if p.breaker != nil {
		p.breaker.RecordSuccess(hubURL)
	}
	return nil
}

func (p *Publisher) failure(hubURL string) {
	if p.breaker != nil {
		p.breaker.RecordFailure(hubURL)
	}
}

func NewTask(payload Payload, maxRetry int) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypePublish, data, asynq.MaxRetry(maxRetry), asynq.Queue(QueueName)), nil
}

// Enqueuer fans a feed update out to one task per configured hub.
type Enqueuer struct {
	client   *asynq.Client
	hubs     []string
	maxRetry int
}

func NewEnqueuer(client *asynq.Client, hubs []string, maxRetry int) *Enqueuer {
	return &Enqueuer{client: client, hubs: hubs, maxRetry: maxRetry}
}

// Enqueue never blocks on the hubs themselves.
func (e *Enqueuer) Enqueue(ctx context.Context, feedURL string) error {
	if feedURL == "" {
		return nil
	}
	var errs []error
	for _, hub := range e.hubs {
		task, err := NewTask(Payload{HubURL: hub, FeedURL: feedURL}, e.maxRetry)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if _, err := e.client.EnqueueContext(ctx, task, asynq.Retention(time.Hour)); err != nil {
			errs = append(errs, fmt.Errorf("enqueue push to %s: %w", hub, err))
		}
	}
	return errors.Join(errs...)
}

// Handler delivers one push task. The last allowed attempt logs and
// gives up instead of failing.
func Handler(p *Publisher) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload Payload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("invalid push payload: %v: %w", err, asynq.SkipRetry)
		}
		log := logger.FromContext(ctx).With("job_type", TypePublish, "hub_url", payload.HubURL, "feed_url", payload.FeedURL)

		start := time.Now()
		err := p.Publish(ctx, payload.HubURL, payload.FeedURL)
		if err == nil {
			metrics.RecordPushDelivery("success", time.Since(start).Seconds())
			log.Info("push notification sent")
			return nil
		}

		retried, _ := asynq.GetRetryCount(ctx)
		maxRetry, _ := asynq.GetMaxRetry(ctx)
		if retried >= maxRetry || errors.Is(err, ErrHubUnavailable) {
			metrics.RecordPushDelivery("gave_up", time.Since(start).Seconds())
			log.Warn("giving up on push notification", "attempts", retried+1, "error", err)
			return nil
		}

		metrics.RecordPushDelivery("retry", time.Since(start).Seconds())
		log.Warn("push notification failed, will retry", "attempt", retried+1, "error", err)
		return err
	}
}

// RetryDelay gives push tasks a fixed delay and leaves other tasks on
// asynq's default backoff.
func RetryDelay(delay time.Duration) asynq.RetryDelayFunc {
	return func(n int, err error, t *asynq.Task) time.Duration {
		if t.Type() == TypePublish {
			return delay
		}
		return asynq.DefaultRetryDelayFunc(n, err, t)
	}
}
