package runner

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/div360/tender-scraper/internal/domain"
)

// ErrStatusTransitionDenied is returned when a status update would
// regress from a terminal state (succeeded/failed).
var ErrStatusTransitionDenied = errors.New("status transition denied: run already in terminal state")

type Store interface {
	// Ping verifies the store is reachable. The pipeline is never
	// started against an unreachable store: a run that cannot
	// deduplicate would re-notify every tender it sees.
	Ping(ctx context.Context) error

	// FinishRun sets the terminal status and result fields.
	// Implementations MUST reject transitions from terminal states
	// (succeeded/failed) and return ErrStatusTransitionDenied. This
	// ensures idempotency on replay.
	FinishRun(ctx context.Context, runID uuid.UUID, status domain.RunStatus, newTenders int, errMsg string, finishedAt time.Time) error
}

// Pipeline executes one scrape over all configured departments.
type Pipeline interface {
	Execute(ctx context.Context, event domain.TriggerEvent) (domain.RunReport, error)
}

// Mailer delivers the digest email for a finished scrape.
type Mailer interface {
	SendReport(ctx context.Context, report domain.RunReport) error
}

type AnalyticsSink interface {
	Record(ctx context.Context, event domain.TriggerEvent, report domain.RunReport) error
}

// MetricsSink defines the interface for recording runner metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	RunCompleted(outcome string, duration time.Duration)
	EmailOutcome(outcome string)
	EventsInFlightIncr()
	EventsInFlightDecr()
}

// DefaultDrainTimeout is the maximum time to wait for buffered events
// during shutdown.
const DefaultDrainTimeout = 30 * time.Second

// Runner consumes trigger events and executes one scrape run per
// event. There is no run-level retry: a failed run is recorded as
// failed and the next cadence fire starts fresh.
type Runner struct {
	store        Store
	pipeline     Pipeline
	mailer       Mailer
	analytics    AnalyticsSink // optional, nil = disabled
	metrics      MetricsSink   // optional, nil = disabled
	drainTimeout time.Duration
	clock        func() time.Time
}

func New(store Store, pipeline Pipeline, mailer Mailer) *Runner {
	return &Runner{
		store:        store,
		pipeline:     pipeline,
		mailer:       mailer,
		drainTimeout: DefaultDrainTimeout,
		clock:        time.Now,
	}
}

func (r *Runner) WithAnalytics(sink AnalyticsSink) *Runner {
	r.analytics = sink
	return r
}

// WithMetrics attaches a metrics sink to the runner.
func (r *Runner) WithMetrics(sink MetricsSink) *Runner {
	r.metrics = sink
	return r
}

// WithDrainTimeout overrides the shutdown drain timeout.
func (r *Runner) WithDrainTimeout(d time.Duration) *Runner {
	if d > 0 {
		r.drainTimeout = d
	}
	return r
}

// Run processes events from the channel until context is cancelled.
// After cancellation, it drains remaining buffered events with a timeout.
func (r *Runner) Run(ctx context.Context, ch <-chan domain.TriggerEvent) {
	for {
		select {
		case <-ctx.Done():
			r.drain(ch)
			return
		case event := <-ch:
			if err := r.Dispatch(ctx, event); err != nil {
				log.Printf("runner: error: %v", err)
			}
		}
	}
}

// drain processes remaining events in the channel buffer after shutdown signal.
// Uses a background context since the main context is already cancelled.
func (r *Runner) drain(ch <-chan domain.TriggerEvent) {
	drainCtx, cancel := context.WithTimeout(context.Background(), r.drainTimeout)
	defer cancel()

	count := 0
	for {
		select {
		case <-drainCtx.Done():
			if count > 0 {
				log.Printf("runner: drain timeout, processed %d events", count)
			}
			return
		case event, ok := <-ch:
			if !ok {
				log.Printf("runner: drain complete, processed %d events", count)
				return
			}
			if err := r.Dispatch(drainCtx, event); err != nil {
				log.Printf("runner: drain error: %v", err)
			}
			count++
		default:
			// No more buffered events
			if count > 0 {
				log.Printf("runner: drain complete, processed %d events", count)
			}
			return
		}
	}
}

// Dispatch executes one run for the given event: pre-flight store
// check, scrape pipeline, digest email, terminal status.
func (r *Runner) Dispatch(ctx context.Context, event domain.TriggerEvent) error {
	if r.metrics != nil {
		r.metrics.EventsInFlightIncr()
		defer r.metrics.EventsInFlightDecr()
	}

	start := r.clock()
	log.Printf("runner: run=%s reason=%s started", event.RunID, event.Reason)

	// Pre-flight: never start scraping against an unreachable store.
	if err := r.store.Ping(ctx); err != nil {
		r.recordOutcome("failed", start)
		return fmt.Errorf("run %s: store unreachable: %w", event.RunID, err)
	}

	report, err := r.pipeline.Execute(ctx, event)
	if err != nil {
		log.Printf("runner: run=%s pipeline failed: %v", event.RunID, err)
		r.recordOutcome("failed", start)
		return r.finish(ctx, event, domain.RunStatusFailed, 0, err.Error())
	}

	// Analytics counts executions, not successful digests; write it
	// before the email so a mail outage still shows run activity.
	r.writeAnalytics(ctx, event, report)

	if err := r.mailer.SendReport(ctx, report); err != nil {
		log.Printf("runner: run=%s digest email failed: %v", event.RunID, err)
		if r.metrics != nil {
			r.metrics.EmailOutcome("failed")
		}
		r.recordOutcome("failed", start)
		return r.finish(ctx, event, domain.RunStatusFailed, report.TotalNew(), fmt.Sprintf("send digest: %v", err))
	}
	if r.metrics != nil {
		r.metrics.EmailOutcome("success")
	}

	log.Printf("runner: run=%s succeeded, new_tenders=%d", event.RunID, report.TotalNew())
	r.recordOutcome("success", start)
	return r.finish(ctx, event, domain.RunStatusSucceeded, report.TotalNew(), "")
}

func (r *Runner) finish(ctx context.Context, event domain.TriggerEvent, status domain.RunStatus, newTenders int, errMsg string) error {
	err := r.store.FinishRun(ctx, event.RunID, status, newTenders, errMsg, r.clock().UTC())
	if err != nil {
		if errors.Is(err, ErrStatusTransitionDenied) {
			// Run already in terminal state (likely reprocessing). Safe to ignore.
			log.Printf("runner: run=%s already terminal, skipping status update", event.RunID)
			return nil
		}
		return err
	}
	return nil
}

func (r *Runner) recordOutcome(outcome string, start time.Time) {
	if r.metrics != nil {
		r.metrics.RunCompleted(outcome, r.clock().Sub(start))
	}
}

// writeAnalytics records run counters as a best-effort side-effect.
// Analytics failures are logged and never affect run correctness.
func (r *Runner) writeAnalytics(ctx context.Context, event domain.TriggerEvent, report domain.RunReport) {
	if r.analytics == nil {
		return
	}
	if err := r.analytics.Record(ctx, event, report); err != nil {
		log.Printf("runner: run=%s analytics write failed: %v", event.RunID, err)
	}
}
