package domain

import "time"

// Tender is one tender notice scraped from the eProcurement portal.
// Value is nil when the portal lists it as "NA".
type Tender struct {
	TenderID          string
	URL               string
	Department        string
	Value             *int64
	OrganizationChain string
	Type              string
	Dates             TenderDates

	FirstSeenAt time.Time
}

// TenderDates holds the critical dates from the tender detail page.
// Values are kept as the portal's display strings; the portal's date
// format is not stable enough to parse.
type TenderDates struct {
	Published          string
	SaleStart          string
	SaleEnd            string
	ClarificationStart string
	ClarificationEnd   string
	BidSubmissionStart string
	BidSubmissionEnd   string
	BidOpening         string
}

// Labelled returns the non-empty dates as (label, value) pairs in
// display order for the digest email.
func (d TenderDates) Labelled() [][2]string {
	all := [][2]string{
		{"Published Date", d.Published},
		{"Sale Start Date", d.SaleStart},
		{"Clarification Start Date", d.ClarificationStart},
		{"Bid Submission Start Date", d.BidSubmissionStart},
		{"Bid Opening Date", d.BidOpening},
		{"Sale End Date", d.SaleEnd},
		{"Clarification End Date", d.ClarificationEnd},
		{"Bid Submission End Date", d.BidSubmissionEnd},
	}
	out := all[:0]
	for _, p := range all {
		if p[1] != "" {
			out = append(out, p)
		}
	}
	return out
}
