package metrics

import "time"

// NoopSink is a no-op implementation of Sink.
// Used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

// NewNoopSink returns a no-op metrics sink.
func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) TickStarted()                                                       {}
func (n *NoopSink) TickCompleted(duration time.Duration, runsTriggered int, err error) {}
func (n *NoopSink) TickDrift(drift time.Duration)                                      {}
func (n *NoopSink) RunCompleted(outcome string, duration time.Duration)                {}
func (n *NoopSink) EmailOutcome(outcome string)                                        {}
func (n *NoopSink) EventsInFlightIncr()                                                {}
func (n *NoopSink) EventsInFlightDecr()                                                {}
func (n *NoopSink) PageFetchCompleted(statusClass string, duration time.Duration)      {}
func (n *NoopSink) TendersDiscovered(count int)                                        {}
func (n *NoopSink) TendersNew(count int)                                               {}
func (n *NoopSink) BufferSizeUpdate(size int)                                          {}
func (n *NoopSink) BufferCapacitySet(capacity int)                                     {}
func (n *NoopSink) BufferSaturationUpdate(saturation float64)                          {}
func (n *NoopSink) EmitError()                                                         {}
func (n *NoopSink) OrphanedRunsUpdate(count int)                                       {}
