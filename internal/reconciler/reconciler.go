// Package reconciler detects and re-emits orphaned runs.
//
// A run is orphaned when it has status='emitted' but was never picked
// up by the runner (e.g. a crash between the store insert and the
// scrape). The reconciler periodically scans for such runs and
// re-emits their trigger events. Idempotency is guaranteed by the
// runner's terminal state guards - if a run already finished, the
// re-emit is safely ignored.
package reconciler

import (
	"context"
	"log"
	"time"

	"github.com/div360/tender-scraper/internal/domain"
)

// Store defines the interface for fetching orphaned runs.
type Store interface {
	GetOrphanedRuns(ctx context.Context, olderThan time.Time, maxResults int) ([]domain.Run, error)
}

// EventEmitter defines the interface for emitting trigger events.
type EventEmitter interface {
	Emit(ctx context.Context, event domain.TriggerEvent) error
}

// MetricsSink records reconciler metrics. All methods must be
// non-blocking and fire-and-forget.
type MetricsSink interface {
	OrphanedRunsUpdate(count int)
}

// Config holds reconciler configuration.
type Config struct {
	// Interval is how often the reconciler runs.
	Interval time.Duration

	// Threshold is the age after which an emitted run is considered
	// orphaned. Must comfortably exceed the longest expected scrape.
	Threshold time.Duration

	// BatchSize is the maximum number of orphans to process per cycle.
	BatchSize int
}

// DefaultConfig returns the default reconciler configuration.
func DefaultConfig() Config {
	return Config{
		Interval:  5 * time.Minute,
		Threshold: 6 * time.Hour,
		BatchSize: 10,
	}
}

// Reconciler detects orphaned runs and re-emits them.
type Reconciler struct {
	config  Config
	store   Store
	emitter EventEmitter
	metrics MetricsSink // optional, nil = disabled
	clock   func() time.Time
}

// New creates a new Reconciler.
func New(config Config, store Store, emitter EventEmitter) *Reconciler {
	return &Reconciler{
		config:  config,
		store:   store,
		emitter: emitter,
		clock:   time.Now,
	}
}

// WithMetrics attaches a metrics sink to the reconciler.
func (r *Reconciler) WithMetrics(sink MetricsSink) *Reconciler {
	r.metrics = sink
	return r
}

// Run starts the reconciliation loop. It blocks until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	log.Printf("reconciler: started (interval=%s, threshold=%s, batch=%d)",
		r.config.Interval, r.config.Threshold, r.config.BatchSize)

	// Run immediately on startup, then on ticker
	r.runCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Println("reconciler: stopped")
			return
		case <-ticker.C:
			r.runCycle(ctx)
		}
	}
}

// runCycle executes one reconciliation cycle.
func (r *Reconciler) runCycle(ctx context.Context) {
	now := r.clock().UTC()
	threshold := now.Add(-r.config.Threshold)

	orphans, err := r.store.GetOrphanedRuns(ctx, threshold, r.config.BatchSize)
	if err != nil {
		// Store error: log and abort cycle. Will retry next interval.
		log.Printf("reconciler: failed to fetch orphans: %v", err)
		return
	}

	if r.metrics != nil {
		r.metrics.OrphanedRunsUpdate(len(orphans))
	}
	if len(orphans) == 0 {
		// Nothing to do. Silent success.
		return
	}

	log.Printf("reconciler: found %d orphaned runs", len(orphans))

	emitted := 0
	failed := 0

	for _, run := range orphans {
		// Check context before each emit to allow graceful shutdown
		if ctx.Err() != nil {
			log.Printf("reconciler: cycle interrupted, processed %d/%d orphans", emitted+failed, len(orphans))
			return
		}

		event := domain.TriggerEvent{
			RunID:          run.ID,
			Reason:         run.Reason,
			ScheduledAt:    run.ScheduledAt,
			FiredAt:        run.FiredAt,
			IdempotencyKey: run.IdempotencyKey,
			CreatedAt:      now,
		}

		if err := r.emitter.Emit(ctx, event); err != nil {
			// Emit failed (context cancelled while blocked).
			// Log and continue - will retry next cycle.
			log.Printf("reconciler: failed to re-emit run=%s: %v", run.ID, err)
			failed++
			continue
		}

		log.Printf("reconciler: re-emitted run=%s reason=%s scheduled_at=%s (age=%s)",
			run.ID, run.Reason, run.ScheduledAt.Format(time.RFC3339),
			now.Sub(run.CreatedAt).Round(time.Second))
		emitted++
	}

	log.Printf("reconciler: cycle complete, re-emitted=%d, failed=%d", emitted, failed)
}
