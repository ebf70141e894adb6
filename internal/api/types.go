package api

import (
	"time"

	"github.com/div360/tender-scraper/internal/domain"
)

// TriggerRunRequest is the optional body of POST /runs.
type TriggerRunRequest struct {
	Note string `json:"note,omitempty"`
}

// TriggerRunResponse acknowledges an accepted manual trigger. The run
// executes asynchronously; poll GET /runs/{id} for the outcome.
type TriggerRunResponse struct {
	RunID string `json:"run_id"`
}

type RunResponse struct {
	ID          string `json:"id"`
	Reason      string `json:"reason"`
	ScheduledAt string `json:"scheduled_at"`
	FiredAt     string `json:"fired_at"`
	Status      string `json:"status"`
	NewTenders  int    `json:"new_tenders"`
	Error       string `json:"error,omitempty"`
	FinishedAt  string `json:"finished_at,omitempty"`
	CreatedAt   string `json:"created_at"`
}

type ListRunsResponse struct {
	Runs []RunResponse `json:"runs"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func toRunResponse(run domain.Run) RunResponse {
	resp := RunResponse{
		ID:          run.ID.String(),
		Reason:      string(run.Reason),
		ScheduledAt: formatTime(run.ScheduledAt),
		FiredAt:     formatTime(run.FiredAt),
		Status:      string(run.Status),
		NewTenders:  run.NewTenders,
		Error:       run.Error,
		CreatedAt:   formatTime(run.CreatedAt),
	}
	if run.FinishedAt != nil {
		resp.FinishedAt = formatTime(*run.FinishedAt)
	}
	return resp
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
