package mongo

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/div360/tender-scraper/internal/domain"
)

// runDoc is the persisted shape of a run. Run ids are stored as
// strings so documents stay readable in the shell.
type runDoc struct {
	ID             string     `bson:"_id"`
	Reason         string     `bson:"reason"`
	IdempotencyKey string     `bson:"idempotency_key"`
	ScheduledAt    time.Time  `bson:"scheduled_at"`
	FiredAt        time.Time  `bson:"fired_at"`
	Status         string     `bson:"status"`
	NewTenders     int        `bson:"new_tenders"`
	Error          string     `bson:"error,omitempty"`
	FinishedAt     *time.Time `bson:"finished_at,omitempty"`
	CreatedAt      time.Time  `bson:"created_at"`
}

func toRunDoc(run domain.Run) runDoc {
	return runDoc{
		ID:             run.ID.String(),
		Reason:         string(run.Reason),
		IdempotencyKey: run.IdempotencyKey,
		ScheduledAt:    run.ScheduledAt,
		FiredAt:        run.FiredAt,
		Status:         string(run.Status),
		NewTenders:     run.NewTenders,
		Error:          run.Error,
		FinishedAt:     run.FinishedAt,
		CreatedAt:      run.CreatedAt,
	}
}

func (d runDoc) toDomain() (domain.Run, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return domain.Run{}, fmt.Errorf("parse run id %q: %w", d.ID, err)
	}

	run := domain.Run{
		ID:             id,
		Reason:         domain.TriggerReason(d.Reason),
		IdempotencyKey: d.IdempotencyKey,
		ScheduledAt:    d.ScheduledAt.UTC(),
		FiredAt:        d.FiredAt.UTC(),
		Status:         domain.RunStatus(d.Status),
		NewTenders:     d.NewTenders,
		Error:          d.Error,
		CreatedAt:      d.CreatedAt.UTC(),
	}
	if d.FinishedAt != nil {
		t := d.FinishedAt.UTC()
		run.FinishedAt = &t
	}
	return run, nil
}

// tenderDoc is the persisted shape of a seen tender. The full detail
// is kept alongside the dedup key so history stays inspectable.
type tenderDoc struct {
	TenderID          string    `bson:"tender_id"`
	URL               string    `bson:"url"`
	Department        string    `bson:"department"`
	Value             *int64    `bson:"value,omitempty"`
	OrganizationChain string    `bson:"organization_chain,omitempty"`
	Type              string    `bson:"tender_type,omitempty"`
	Dates             datesDoc  `bson:"dates"`
	FirstSeenAt       time.Time `bson:"first_seen_at"`
}

type datesDoc struct {
	Published          string `bson:"published,omitempty"`
	SaleStart          string `bson:"sale_start,omitempty"`
	ClarificationStart string `bson:"clarification_start,omitempty"`
	BidSubmissionStart string `bson:"bid_submission_start,omitempty"`
	BidOpening         string `bson:"bid_opening,omitempty"`
	SaleEnd            string `bson:"sale_end,omitempty"`
	ClarificationEnd   string `bson:"clarification_end,omitempty"`
	BidSubmissionEnd   string `bson:"bid_submission_end,omitempty"`
}

func toTenderDoc(t domain.Tender) tenderDoc {
	return tenderDoc{
		TenderID:          t.TenderID,
		URL:               t.URL,
		Department:        t.Department,
		Value:             t.Value,
		OrganizationChain: t.OrganizationChain,
		Type:              t.Type,
		Dates: datesDoc{
			Published:          t.Dates.Published,
			SaleStart:          t.Dates.SaleStart,
			ClarificationStart: t.Dates.ClarificationStart,
			BidSubmissionStart: t.Dates.BidSubmissionStart,
			BidOpening:         t.Dates.BidOpening,
			SaleEnd:            t.Dates.SaleEnd,
			ClarificationEnd:   t.Dates.ClarificationEnd,
			BidSubmissionEnd:   t.Dates.BidSubmissionEnd,
		},
		FirstSeenAt: t.FirstSeenAt,
	}
}
