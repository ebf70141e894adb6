package channel

import (
	"context"

	"github.com/div360/tender-scraper/internal/domain"
)

// MetricsSink records event bus metrics. All methods must be
// non-blocking and fire-and-forget.
type MetricsSink interface {
	BufferSizeUpdate(size int)
	BufferCapacitySet(capacity int)
	BufferSaturationUpdate(saturation float64)
	EmitError()
}

// Option configures an EventBus.
type Option func(*EventBus)

// WithMetrics attaches a metrics sink to the bus.
func WithMetrics(sink MetricsSink) Option {
	return func(b *EventBus) {
		b.metrics = sink
	}
}

// EventBus is the in-process transport between the scheduler (and
// reconciler) and the runner.
type EventBus struct {
	ch      chan domain.TriggerEvent
	metrics MetricsSink // optional, nil = disabled
}

func NewEventBus(buffer int, opts ...Option) *EventBus {
	b := &EventBus{
		ch: make(chan domain.TriggerEvent, buffer),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.metrics != nil {
		b.metrics.BufferCapacitySet(buffer)
	}
	return b
}

// Emit enqueues an event, blocking until buffer space is available or
// ctx is cancelled.
func (b *EventBus) Emit(ctx context.Context, event domain.TriggerEvent) error {
	select {
	case b.ch <- event:
		b.observe()
		return nil
	case <-ctx.Done():
		if b.metrics != nil {
			b.metrics.EmitError()
		}
		return ctx.Err()
	}
}

func (b *EventBus) Channel() <-chan domain.TriggerEvent {
	return b.ch
}

func (b *EventBus) observe() {
	if b.metrics == nil {
		return
	}
	size := len(b.ch)
	b.metrics.BufferSizeUpdate(size)
	if cap(b.ch) > 0 {
		b.metrics.BufferSaturationUpdate(float64(size) / float64(cap(b.ch)))
	}
}
