package domain

import (
	"time"

	"github.com/google/uuid"
)

type RunStatus string

const (
	RunStatusEmitted   RunStatus = "emitted"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// IsTerminal reports whether the status is final. Terminal statuses
// never regress; the store enforces this on update.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusSucceeded || s == RunStatusFailed
}

// Run records that the scrape job fired at a specific time.
type Run struct {
	ID uuid.UUID

	Reason         TriggerReason
	IdempotencyKey string

	ScheduledAt time.Time
	FiredAt     time.Time
	Status      RunStatus

	// Result fields, populated when the run reaches a terminal status.
	NewTenders int
	Error      string
	FinishedAt *time.Time

	CreatedAt time.Time
}
