package metrics

import "time"

// Sink defines the interface for recording metrics.
// All methods are fire-and-forget: implementations MUST NOT block or propagate errors.
// If the metrics backend is unavailable, implementations log warnings and continue.
type Sink interface {
	// Scheduler metrics
	TickStarted()
	TickCompleted(duration time.Duration, runsTriggered int, err error)
	TickDrift(drift time.Duration)

	// Runner metrics
	RunCompleted(outcome string, duration time.Duration)
	EmailOutcome(outcome string)
	EventsInFlightIncr()
	EventsInFlightDecr()

	// Scraper metrics
	PageFetchCompleted(statusClass string, duration time.Duration)
	TendersDiscovered(count int)
	TendersNew(count int)

	// EventBus metrics
	BufferSizeUpdate(size int)
	BufferCapacitySet(capacity int)
	BufferSaturationUpdate(saturation float64)
	EmitError()

	// Observability metrics
	OrphanedRunsUpdate(count int)
}

// Outcome constants for RunCompleted and EmailOutcome metrics.
const (
	OutcomeSuccess = "success"
	OutcomeFailed  = "failed"
)
