package domain

import (
	"time"

	"github.com/google/uuid"
)

// TriggerReason identifies what caused a run to fire.
type TriggerReason string

const (
	TriggerReasonScheduled TriggerReason = "scheduled"
	TriggerReasonManual    TriggerReason = "manual"
)

// TriggerEvent is emitted when a scrape run fires, either on the
// calendar cadence or on manual request. Both paths produce the same
// event and flow through the same runner.
type TriggerEvent struct {
	RunID  uuid.UUID
	Reason TriggerReason

	ScheduledAt    time.Time // intended fire time (UTC); equals FiredAt for manual runs
	FiredAt        time.Time // actual emission time
	IdempotencyKey string

	CreatedAt time.Time
}
