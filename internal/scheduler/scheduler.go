package scheduler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/div360/tender-scraper/internal/domain"
)

var ErrDuplicateRun = errors.New("run already exists")

type Store interface {
	InsertRun(ctx context.Context, run domain.Run) error
	// LastScheduledRunTime returns the ScheduledAt of the most recent
	// scheduled run, or ok=false when no run has ever fired.
	LastScheduledRunTime(ctx context.Context) (time.Time, bool, error)
}

type CronParser interface {
	Parse(expression string, timezone string) (CronSchedule, error)
}

type CronSchedule interface {
	Next(after time.Time) time.Time
}

type EventEmitter interface {
	Emit(ctx context.Context, event domain.TriggerEvent) error
}

// MetricsSink records scheduler metrics. All methods must be
// non-blocking and fire-and-forget.
type MetricsSink interface {
	TickStarted()
	TickCompleted(duration time.Duration, runsTriggered int, err error)
	TickDrift(drift time.Duration)
}

type Config struct {
	TickInterval time.Duration

	// Schedule is the cadence expression; Timezone the IANA zone it is
	// evaluated in.
	Schedule string
	Timezone string
}

// Scheduler walks the cadence and emits exactly one run per due time.
// The scheduled path and the manual path share emitRun, so both give
// the same guarantees: a Run row first (idempotent), then an event.
type Scheduler struct {
	config   Config
	store    Store
	parser   CronParser
	emitter  EventEmitter
	metrics  MetricsSink // optional, nil = disabled
	clock    func() time.Time
	lastTick time.Time
	caughtUp bool
}

func New(config Config, store Store, parser CronParser, emitter EventEmitter) *Scheduler {
	return &Scheduler{
		config:  config,
		store:   store,
		parser:  parser,
		emitter: emitter,
		clock:   time.Now,
	}
}

// WithMetrics attaches a metrics sink to the scheduler.
func (s *Scheduler) WithMetrics(sink MetricsSink) *Scheduler {
	s.metrics = sink
	return s
}

func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.config.TickInterval)
	defer ticker.Stop()

	log.Printf("scheduler: started, schedule=%q tz=%s tick=%s",
		s.config.Schedule, s.config.Timezone, s.config.TickInterval)

	s.lastTick = s.resumePoint(ctx)
	expectedTick := s.clock().UTC().Add(s.config.TickInterval)

	for {
		select {
		case <-ctx.Done():
			log.Println("scheduler: stopped")
			return ctx.Err()
		case <-ticker.C:
			if s.metrics != nil {
				s.metrics.TickStarted()
				s.metrics.TickDrift(s.clock().UTC().Sub(expectedTick))
			}
			start := s.clock()
			n, err := s.processTick(ctx)
			if err != nil {
				log.Printf("scheduler: tick error: %v", err)
			}
			if s.metrics != nil {
				s.metrics.TickCompleted(s.clock().Sub(start), n, err)
			}
			expectedTick = s.clock().UTC().Add(s.config.TickInterval)
		}
	}
}

// resumePoint picks where the cadence walk restarts after a process
// restart. Resuming from the last recorded scheduled run lets a fire
// that was missed while the process was down still happen; processTick
// caps the replay at one fire.
func (s *Scheduler) resumePoint(ctx context.Context) time.Time {
	now := s.clock().UTC()
	last, ok, err := s.store.LastScheduledRunTime(ctx)
	if err != nil {
		log.Printf("scheduler: could not read last run, starting from now: %v", err)
		return now
	}
	if !ok {
		return now
	}
	return last.UTC()
}

func (s *Scheduler) processTick(ctx context.Context) (int, error) {
	now := s.clock().UTC()

	sched, err := s.parser.Parse(s.config.Schedule, s.config.Timezone)
	if err != nil {
		return 0, fmt.Errorf("parse schedule: %w", err)
	}

	due := s.dueTimes(sched, s.lastTick, now)

	// Catch-up after a restart replays at most the latest missed fire;
	// runs are idempotent on scheduled_at so a re-walk never doubles up.
	if !s.caughtUp && len(due) > 1 {
		log.Printf("scheduler: skipping %d stale fires, replaying latest only", len(due)-1)
		due = due[len(due)-1:]
	}
	s.caughtUp = true

	triggered := 0
	for _, t := range due {
		if err := s.emitRun(ctx, domain.TriggerReasonScheduled, t, now); err != nil {
			log.Printf("scheduler: fire at %s error: %v", t.Format(time.RFC3339), err)
			continue
		}
		triggered++
	}

	s.lastTick = now
	return triggered, nil
}

// dueTimes collects the cadence fire times in (from, to], capped to
// keep a bad expression from spinning.
func (s *Scheduler) dueTimes(sched CronSchedule, from, to time.Time) []time.Time {
	const maxIterations = 1000

	var due []time.Time
	t := sched.Next(from)
	for i := 0; i < maxIterations && !t.After(to); i++ {
		due = append(due, t.UTC().Truncate(time.Minute))
		t = sched.Next(t)
	}
	return due
}

// TriggerManual fires one run immediately, independent of the cadence
// state. It shares the emit path with scheduled fires.
func (s *Scheduler) TriggerManual(ctx context.Context) (uuid.UUID, error) {
	now := s.clock().UTC()
	return s.emitRunID(ctx, domain.TriggerReasonManual, now, now)
}

func (s *Scheduler) emitRun(ctx context.Context, reason domain.TriggerReason, scheduledAt, now time.Time) error {
	_, err := s.emitRunID(ctx, reason, scheduledAt, now)
	return err
}

func (s *Scheduler) emitRunID(ctx context.Context, reason domain.TriggerReason, scheduledAt, now time.Time) (uuid.UUID, error) {
	runID := uuid.New()
	idempotencyKey := generateIdempotencyKey(reason, scheduledAt, runID)

	run := domain.Run{
		ID:             runID,
		Reason:         reason,
		IdempotencyKey: idempotencyKey,
		ScheduledAt:    scheduledAt,
		FiredAt:        now,
		Status:         domain.RunStatusEmitted,
		CreatedAt:      now,
	}

	if err := s.store.InsertRun(ctx, run); err != nil {
		if errors.Is(err, ErrDuplicateRun) {
			return uuid.Nil, nil // already fired for this slot
		}
		return uuid.Nil, fmt.Errorf("insert run: %w", err)
	}

	event := domain.TriggerEvent{
		RunID:          runID,
		Reason:         reason,
		ScheduledAt:    scheduledAt,
		FiredAt:        now,
		IdempotencyKey: idempotencyKey,
		CreatedAt:      now,
	}

	if err := s.emitter.Emit(ctx, event); err != nil {
		return uuid.Nil, fmt.Errorf("emit: %w", err)
	}

	log.Printf("scheduler: emitted run=%s reason=%s scheduled_at=%s",
		runID, reason, scheduledAt.Format(time.RFC3339))
	return runID, nil
}

// generateIdempotencyKey derives the deduplication key for a run.
// Scheduled fires key on the slot so the same due time can never fire
// twice; manual fires key on the run id so every request is distinct.
func generateIdempotencyKey(reason domain.TriggerReason, scheduledAt time.Time, runID uuid.UUID) string {
	var data string
	switch reason {
	case domain.TriggerReasonScheduled:
		data = fmt.Sprintf("scheduled:%d", scheduledAt.Unix())
	default:
		data = fmt.Sprintf("%s:%s", reason, runID)
	}
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
