package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPrometheusSink_ImplementsSink(t *testing.T) {
	var _ Sink = NewPrometheusSink(prometheus.NewRegistry())
	var _ Sink = NewNoopSink()
}

func TestPrometheusSink_SchedulerMetrics(t *testing.T) {
	sink := NewPrometheusSink(prometheus.NewRegistry())

	sink.TickStarted()
	sink.TickStarted()
	sink.TickCompleted(100*time.Millisecond, 1, nil)
	sink.TickCompleted(100*time.Millisecond, 0, errors.New("insert failed"))

	if got := testutil.ToFloat64(sink.ticksTotal); got != 2 {
		t.Errorf("ticks_total = %f, want 2", got)
	}
	if got := testutil.ToFloat64(sink.tickErrorsTotal); got != 1 {
		t.Errorf("tick_errors_total = %f, want 1", got)
	}
	if got := testutil.ToFloat64(sink.runsTriggeredTotal); got != 1 {
		t.Errorf("runs_triggered_total = %f, want 1", got)
	}
}

func TestPrometheusSink_RunOutcomes(t *testing.T) {
	sink := NewPrometheusSink(prometheus.NewRegistry())

	sink.RunCompleted(OutcomeSuccess, 30*time.Second)
	sink.RunCompleted(OutcomeSuccess, 45*time.Second)
	sink.RunCompleted(OutcomeFailed, 5*time.Second)

	if got := testutil.ToFloat64(sink.runOutcomesTotal.WithLabelValues(OutcomeSuccess)); got != 2 {
		t.Errorf("run_outcomes{success} = %f, want 2", got)
	}
	if got := testutil.ToFloat64(sink.runOutcomesTotal.WithLabelValues(OutcomeFailed)); got != 1 {
		t.Errorf("run_outcomes{failed} = %f, want 1", got)
	}
}

func TestPrometheusSink_EventsInFlight(t *testing.T) {
	sink := NewPrometheusSink(prometheus.NewRegistry())

	sink.EventsInFlightIncr()
	sink.EventsInFlightIncr()
	sink.EventsInFlightDecr()

	if got := testutil.ToFloat64(sink.eventsInFlight); got != 1 {
		t.Errorf("events_in_flight = %f, want 1", got)
	}
}

func TestPrometheusSink_ScraperMetrics(t *testing.T) {
	sink := NewPrometheusSink(prometheus.NewRegistry())

	sink.PageFetchCompleted("2xx", 400*time.Millisecond)
	sink.PageFetchCompleted("5xx", time.Second)
	sink.TendersDiscovered(12)
	sink.TendersNew(3)

	if got := testutil.ToFloat64(sink.pageFetchesTotal.WithLabelValues("2xx")); got != 1 {
		t.Errorf("page_fetches{2xx} = %f, want 1", got)
	}
	if got := testutil.ToFloat64(sink.tendersDiscoveredTotal); got != 12 {
		t.Errorf("tenders_discovered_total = %f, want 12", got)
	}
	if got := testutil.ToFloat64(sink.tendersNewTotal); got != 3 {
		t.Errorf("tenders_new_total = %f, want 3", got)
	}
}

func TestPrometheusSink_BufferMetrics(t *testing.T) {
	sink := NewPrometheusSink(prometheus.NewRegistry())

	sink.BufferCapacitySet(16)
	sink.BufferSizeUpdate(4)
	sink.BufferSaturationUpdate(0.25)
	sink.EmitError()

	if got := testutil.ToFloat64(sink.bufferCapacity); got != 16 {
		t.Errorf("buffer_capacity = %f, want 16", got)
	}
	if got := testutil.ToFloat64(sink.bufferSaturation); got != 0.25 {
		t.Errorf("buffer_saturation = %f, want 0.25", got)
	}
	if got := testutil.ToFloat64(sink.emitErrorsTotal); got != 1 {
		t.Errorf("emit_errors_total = %f, want 1", got)
	}
}

func TestPrometheusSink_OrphanedRuns(t *testing.T) {
	sink := NewPrometheusSink(prometheus.NewRegistry())

	sink.OrphanedRunsUpdate(7)
	sink.OrphanedRunsUpdate(0)

	if got := testutil.ToFloat64(sink.orphanedRuns); got != 0 {
		t.Errorf("orphaned_runs = %f, want 0", got)
	}
}

// Duplicate registration is logged, never fatal: the second sink still
// works, it just serves unregistered collectors.
func TestPrometheusSink_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_ = NewPrometheusSink(reg)
	sink := NewPrometheusSink(reg)

	sink.TickStarted()
	if got := testutil.ToFloat64(sink.ticksTotal); got != 1 {
		t.Errorf("ticks_total = %f, want 1", got)
	}
}
