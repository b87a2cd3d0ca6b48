package metrics

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"
)

// LatencyKey is where PublishLatency stores the rolling p95 of job durations.
const LatencyKey = "mediagoblin:metrics:job_latency_p95"

var (
	latencyWindow     []int64
	latencyMu         sync.Mutex
	maxLatencyRecords = 1000
)

func recordLatency(ms int64) {
	latencyMu.Lock()
	defer latencyMu.Unlock()

	latencyWindow = append(latencyWindow, ms)
	if len(latencyWindow) > maxLatencyRecords {
		latencyWindow = latencyWindow[len(latencyWindow)-maxLatencyRecords:]
	}
}

// JobLatencyP95 returns the 95th percentile, in milliseconds, of the most
// recent job durations seen by the collector.
func JobLatencyP95() int64 {
	latencyMu.Lock()
	defer latencyMu.Unlock()

	if len(latencyWindow) == 0 {
		return 0
	}

	sorted := make([]int64, len(latencyWindow))
	copy(sorted, latencyWindow)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	idx := int(float64(len(sorted)) * 0.95)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

type SetFunc func(ctx context.Context, key string, value interface{}, expiration time.Duration) error

// PublishLatency writes the current p95 with a short expiry so that stale
// workers drop out on their own.
func PublishLatency(ctx context.Context, set SetFunc) error {
	if set == nil {
		return nil
	}
	return set(ctx, LatencyKey, strconv.FormatInt(JobLatencyP95(), 10), 5*time.Minute)
}
