package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type fakeStore struct{ err error }

func (f fakeStore) HealthCheck(ctx context.Context) error { return f.err }

func TestCheckAll(t *testing.T) {
	c := NewChecker().
		WithDatabase(nil).
		WithRedis(nil).
		WithStorage("public_store", fakeStore{}).
		WithStorage("queue_store", fakeStore{err: errors.New("bucket missing")})

	resp := c.CheckAll(context.Background())
	if resp.Status != StatusUnhealthy {
		t.Errorf("CheckAll() status = %s, want %s", resp.Status, StatusUnhealthy)
	}
	if len(resp.Components) != 2 {
		t.Fatalf("CheckAll() components = %d, want 2", len(resp.Components))
	}
	if resp.Components[0].Name != "public_store" || resp.Components[0].Status != StatusHealthy {
		t.Errorf("components[0] = %+v", resp.Components[0])
	}
	if resp.Components[1].Error != "bucket missing" {
		t.Errorf("components[1].Error = %q, want %q", resp.Components[1].Error, "bucket missing")
	}
}

func TestReadinessHandler(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"healthy", nil, http.StatusOK},
		{"unhealthy", errors.New("down"), http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewChecker().WithCheck("ffmpeg", func(context.Context) error { return tt.err })
			rec := httptest.NewRecorder()
			ReadinessHandler(c).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
			var body HealthResponse
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if len(body.Components) != 1 || body.Components[0].Name != "ffmpeg" {
				t.Errorf("components = %+v", body.Components)
			}
		})
	}
}

func TestLivenessHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	LivenessHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}
