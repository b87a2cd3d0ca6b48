package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cobbzilla/mediagoblin/internal/logger"
	"github.com/cobbzilla/mediagoblin/internal/media"
	"github.com/cobbzilla/mediagoblin/internal/metrics"
	"github.com/cobbzilla/mediagoblin/internal/processing"
	"github.com/cobbzilla/mediagoblin/internal/webhook"
)

// Reconciler finalizes entries left in processing by a worker that died
// or a group that never completed.
type Reconciler struct {
	repo     media.Repository
	notifier StatusNotifier
	timeout  time.Duration
	batch    int
	now      func() time.Time
}

func NewReconciler(repo media.Repository, notifier StatusNotifier, livenessTimeout time.Duration) *Reconciler {
	return &Reconciler{
		repo:     repo,
		notifier: notifier,
		timeout:  livenessTimeout,
		batch:    defaultGCBatchSize,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

type ReconcileStats struct {
	Restored int `json:"restored"`
	Failed   int `json:"failed"`
	Skipped  int `json:"skipped"`
}

// Run makes one pass. Entries whose job was a re-derivation of a processed
// entry go back to processed; everything else is failed as stale.
func (r *Reconciler) Run(ctx context.Context) (*ReconcileStats, error) {
	log := logger.FromContext(ctx)
	cutoff := r.now().Add(-r.timeout)
	stats := &ReconcileStats{}

	entries, err := r.repo.ListByStateBefore(ctx, media.StateProcessing, cutoff, r.batch)
	if err != nil {
		return stats, fmt.Errorf("failed to list stale processing entries: %w", err)
	}

	stale := &processing.Error{
		Kind:       processing.KindTransient,
		Classifier: processing.ClassStaleProcessing,
		Message:    fmt.Sprintf("no result after %s", r.timeout),
	}

	for _, e := range entries {
		elog := log.With("entry_id", e.ID.String(), "prior_state", e.PriorState)

		to, failure := media.StateFailed, stale.Failure()
		if e.PriorState == media.StateProcessed {
			to = media.StateProcessed
		}
		var fp *media.Failure
		if to == media.StateFailed {
			fp = &failure
		}

		if err := r.repo.Finish(ctx, e.ID, to, fp); err != nil {
			if errors.Is(err, media.ErrStateConflict) || errors.Is(err, media.ErrNotFound) {
				stats.Skipped++
				continue
			}
			elog.Error("failed to reconcile entry", "error", err)
			continue
		}

		elog.Warn("reconciled stale processing entry", "to", to)
		metrics.RecordReconciled(string(to))
		metrics.RecordTransition(e.MediaType, string(to))
		if to == media.StateProcessed {
			stats.Restored++
		} else {
			stats.Failed++
		}

		if r.notifier != nil {
			e.State = to
			e.FailError, e.FailMetadata = "", nil
			message := ""
			if fp != nil {
				e.FailError, e.FailMetadata = fp.Classifier, fp.Metadata
				message = stale.SafeMessage()
			}
			r.notifier.Notify(ctx, e.CallbackURL, webhook.StatusFromEntry(e, message))
		}
	}

	if len(entries) > 0 {
		log.Info("reconciliation completed", "restored", stats.Restored, "failed", stats.Failed, "skipped", stats.Skipped)
	}
	return stats, nil
}
