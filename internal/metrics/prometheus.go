package metrics

import (
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusSink implements Sink using Prometheus client library.
// All methods are non-blocking and fire-and-forget.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	// Scheduler metrics
	ticksTotal         prometheus.Counter
	tickErrorsTotal    prometheus.Counter
	runsTriggeredTotal prometheus.Counter
	tickDuration       prometheus.Histogram
	tickDrift          prometheus.Histogram

	// Runner metrics
	runOutcomesTotal   *prometheus.CounterVec
	runDuration        prometheus.Histogram
	emailOutcomesTotal *prometheus.CounterVec
	eventsInFlight     prometheus.Gauge

	// Scraper metrics
	pageFetchesTotal       *prometheus.CounterVec
	pageFetchDuration      prometheus.Histogram
	tendersDiscoveredTotal prometheus.Counter
	tendersNewTotal        prometheus.Counter

	// EventBus metrics
	bufferSize       prometheus.Gauge
	bufferCapacity   prometheus.Gauge
	bufferSaturation prometheus.Gauge
	emitErrorsTotal  prometheus.Counter

	// Observability metrics
	orphanedRuns prometheus.Gauge
}

// NewPrometheusSink creates a new Prometheus metrics sink.
// If registration fails, it logs a warning and returns a functional sink.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{}
	s.initSchedulerMetrics(reg)
	s.initRunnerMetrics(reg)
	s.initScraperMetrics(reg)
	s.initEventBusMetrics(reg)
	s.initObservabilityMetrics(reg)
	return s
}

func (s *PrometheusSink) initSchedulerMetrics(reg prometheus.Registerer) {
	s.ticksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tenderscraper_scheduler_ticks_total",
		Help: "Total number of scheduler ticks processed.",
	})
	s.tickErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tenderscraper_scheduler_tick_errors_total",
		Help: "Total number of scheduler tick errors.",
	})
	s.runsTriggeredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tenderscraper_scheduler_runs_triggered_total",
		Help: "Total number of scrape runs triggered.",
	})
	s.tickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "tenderscraper_scheduler_tick_duration_seconds",
		Help:    "Duration of each scheduler tick in seconds.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
	})
	s.tickDrift = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "tenderscraper_scheduler_tick_drift_seconds",
		Help:    "Difference between actual tick time and expected interval in seconds.",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	})

	s.register(reg, s.ticksTotal, "tenderscraper_scheduler_ticks_total")
	s.register(reg, s.tickErrorsTotal, "tenderscraper_scheduler_tick_errors_total")
	s.register(reg, s.runsTriggeredTotal, "tenderscraper_scheduler_runs_triggered_total")
	s.register(reg, s.tickDuration, "tenderscraper_scheduler_tick_duration_seconds")
	s.register(reg, s.tickDrift, "tenderscraper_scheduler_tick_drift_seconds")
}

func (s *PrometheusSink) initRunnerMetrics(reg prometheus.Registerer) {
	s.runOutcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tenderscraper_runner_run_outcomes_total",
		Help: "Total number of completed scrape runs per outcome.",
	}, []string{"outcome"})

	s.runDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "tenderscraper_runner_run_duration_seconds",
		Help:    "Full scrape run duration in seconds.",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
	})

	s.emailOutcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tenderscraper_runner_email_outcomes_total",
		Help: "Total number of digest email sends per outcome.",
	}, []string{"outcome"})

	s.eventsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tenderscraper_runner_events_in_flight",
		Help: "Number of trigger events currently being processed.",
	})

	s.register(reg, s.runOutcomesTotal, "tenderscraper_runner_run_outcomes_total")
	s.register(reg, s.runDuration, "tenderscraper_runner_run_duration_seconds")
	s.register(reg, s.emailOutcomesTotal, "tenderscraper_runner_email_outcomes_total")
	s.register(reg, s.eventsInFlight, "tenderscraper_runner_events_in_flight")
}

func (s *PrometheusSink) initScraperMetrics(reg prometheus.Registerer) {
	s.pageFetchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tenderscraper_scraper_page_fetches_total",
		Help: "Total number of portal page fetches.",
	}, []string{"status_class"})

	s.pageFetchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "tenderscraper_scraper_page_fetch_duration_seconds",
		Help:    "Portal page fetch latency in seconds.",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})

	s.tendersDiscoveredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tenderscraper_scraper_tenders_discovered_total",
		Help: "Total number of tenders listed across scraped departments.",
	})

	s.tendersNewTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tenderscraper_scraper_tenders_new_total",
		Help: "Total number of tenders reported for the first time.",
	})

	s.register(reg, s.pageFetchesTotal, "tenderscraper_scraper_page_fetches_total")
	s.register(reg, s.pageFetchDuration, "tenderscraper_scraper_page_fetch_duration_seconds")
	s.register(reg, s.tendersDiscoveredTotal, "tenderscraper_scraper_tenders_discovered_total")
	s.register(reg, s.tendersNewTotal, "tenderscraper_scraper_tenders_new_total")
}

func (s *PrometheusSink) initEventBusMetrics(reg prometheus.Registerer) {
	s.bufferSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tenderscraper_eventbus_buffer_size",
		Help: "Current number of events in the event bus buffer.",
	})
	s.bufferCapacity = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tenderscraper_eventbus_buffer_capacity",
		Help: "Configured capacity of the event bus buffer.",
	})
	s.bufferSaturation = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tenderscraper_eventbus_buffer_saturation",
		Help: "Event bus buffer fill ratio between 0 and 1.",
	})
	s.emitErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tenderscraper_eventbus_emit_errors_total",
		Help: "Total number of emit errors (context cancelled while blocked).",
	})

	s.register(reg, s.bufferSize, "tenderscraper_eventbus_buffer_size")
	s.register(reg, s.bufferCapacity, "tenderscraper_eventbus_buffer_capacity")
	s.register(reg, s.bufferSaturation, "tenderscraper_eventbus_buffer_saturation")
	s.register(reg, s.emitErrorsTotal, "tenderscraper_eventbus_emit_errors_total")
}

func (s *PrometheusSink) initObservabilityMetrics(reg prometheus.Registerer) {
	s.orphanedRuns = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tenderscraper_reconciler_orphaned_runs",
		Help: "Number of emitted runs past the orphan threshold at last sweep.",
	})

	s.register(reg, s.orphanedRuns, "tenderscraper_reconciler_orphaned_runs")
}

// register attempts to register a collector, logging any errors without propagating them.
func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		log.Printf("metrics: failed to register %s: %v", name, err)
	}
}

// Scheduler metrics implementation

func (s *PrometheusSink) TickStarted() {
	s.ticksTotal.Inc()
}

func (s *PrometheusSink) TickCompleted(duration time.Duration, runsTriggered int, err error) {
	s.tickDuration.Observe(duration.Seconds())
	s.runsTriggeredTotal.Add(float64(runsTriggered))
	if err != nil {
		s.tickErrorsTotal.Inc()
	}
}

func (s *PrometheusSink) TickDrift(drift time.Duration) {
	// Record absolute drift value
	d := drift.Seconds()
	if d < 0 {
		d = -d
	}
	s.tickDrift.Observe(d)
}

// Runner metrics implementation

func (s *PrometheusSink) RunCompleted(outcome string, duration time.Duration) {
	s.runOutcomesTotal.WithLabelValues(outcome).Inc()
	s.runDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) EmailOutcome(outcome string) {
	s.emailOutcomesTotal.WithLabelValues(outcome).Inc()
}

func (s *PrometheusSink) EventsInFlightIncr() {
	s.eventsInFlight.Inc()
}

func (s *PrometheusSink) EventsInFlightDecr() {
	s.eventsInFlight.Dec()
}

// Scraper metrics implementation

func (s *PrometheusSink) PageFetchCompleted(statusClass string, duration time.Duration) {
	s.pageFetchesTotal.WithLabelValues(statusClass).Inc()
	s.pageFetchDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) TendersDiscovered(count int) {
	s.tendersDiscoveredTotal.Add(float64(count))
}

func (s *PrometheusSink) TendersNew(count int) {
	s.tendersNewTotal.Add(float64(count))
}

// EventBus metrics implementation

func (s *PrometheusSink) BufferSizeUpdate(size int) {
	s.bufferSize.Set(float64(size))
}

func (s *PrometheusSink) BufferCapacitySet(capacity int) {
	s.bufferCapacity.Set(float64(capacity))
}

func (s *PrometheusSink) BufferSaturationUpdate(saturation float64) {
	s.bufferSaturation.Set(saturation)
}

func (s *PrometheusSink) EmitError() {
	s.emitErrorsTotal.Inc()
}

// Observability metrics implementation

func (s *PrometheusSink) OrphanedRunsUpdate(count int) {
	s.orphanedRuns.Set(float64(count))
}
