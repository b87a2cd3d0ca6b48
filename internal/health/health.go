package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/cobbzilla/mediagoblin/internal/metrics"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

type StorageHealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// CheckFunc probes one dependency.
type CheckFunc func(ctx context.Context) error

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
)

type ComponentHealth struct {
	Name    string `json:"name"`
	Status  Status `json:"status"`
	Latency int64  `json:"latency_ms"`
	Error   string `json:"error,omitempty"`
}

type HealthResponse struct {
	Status       Status            `json:"status"`
	Components   []ComponentHealth `json:"components,omitempty"`
	JobLatencyMS int64             `json:"job_latency_p95_ms"`
	Timestamp    time.Time         `json:"timestamp"`
}

type namedCheck struct {
	name  string
	check CheckFunc
}

type Checker struct {
	checks []namedCheck
}

func NewChecker() *Checker {
	return &Checker{}
}

func (c *Checker) WithDatabase(pool *pgxpool.Pool) *Checker {
	if pool == nil {
		return c
	}
	return c.WithCheck("database", pool.Ping)
}

func (c *Checker) WithRedis(client redis.UniversalClient) *Checker {
	if client == nil {
		return c
	}
	return c.WithCheck("redis", func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})
}

func (c *Checker) WithStorage(name string, s StorageHealthChecker) *Checker {
	if s == nil {
		return c
	}
	return c.WithCheck(name, s.HealthCheck)
}

func (c *Checker) WithCheck(name string, fn CheckFunc) *Checker {
	c.checks = append(c.checks, namedCheck{name: name, check: fn})
	return c
}

func (c *Checker) CheckAll(ctx context.Context) HealthResponse {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	var mu sync.Mutex
	components := make([]ComponentHealth, 0, len(c.checks))

	for _, nc := range c.checks {
		wg.Add(1)
		go func(nc namedCheck) {
			defer wg.Done()
			comp := run(ctx, nc)
			mu.Lock()
			components = append(components, comp)
			mu.Unlock()
		}(nc)
	}
	wg.Wait()

	sort.Slice(components, func(i, j int) bool { return components[i].Name < components[j].Name })

	status := StatusHealthy
	for _, comp := range components {
		if comp.Status == StatusUnhealthy {
			status = StatusUnhealthy
			break
		}
	}

	return HealthResponse{
		Status:       status,
		Components:   components,
		JobLatencyMS: metrics.JobLatencyP95(),
		Timestamp:    time.Now(),
	}
}

func run(ctx context.Context, nc namedCheck) ComponentHealth {
	start := time.Now()
	err := nc.check(ctx)
	comp := ComponentHealth{
		Name:    nc.name,
		Status:  StatusHealthy,
		Latency: time.Since(start).Milliseconds(),
	}
	if err != nil {
		comp.Status = StatusUnhealthy
		comp.Error = err.Error()
	}
	return comp
}

func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	}
}

func ReadinessHandler(checker *Checker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := checker.CheckAll(r.Context())

		w.Header().Set("Content-Type", "application/json")
		if resp.Status == StatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		_ = json.NewEncoder(w).Encode(resp)
	}
}
