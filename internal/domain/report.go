package domain

import "time"

// RunReport is the outcome of one scrape run, the source for the
// digest email and analytics.
type RunReport struct {
	RunID       string
	Reason      TriggerReason
	GeneratedAt time.Time

	Departments []DepartmentReport
}

// DepartmentReport summarizes one department's scrape.
type DepartmentReport struct {
	Name string

	// Found is the number of tender links on the listing page;
	// NewTenders contains only tenders not seen in a previous run.
	Found      int
	NewTenders []Tender

	// Err is set when the department could not be scraped at all
	// (missing from the table, listing page unreachable).
	Err string

	// FailedDetails lists tender URLs whose detail pages could not be
	// parsed; their HTML is saved aside for diagnosis.
	FailedDetails []string
}

// TotalNew returns the number of newly seen tenders across departments.
func (r RunReport) TotalNew() int {
	n := 0
	for _, d := range r.Departments {
		n += len(d.NewTenders)
	}
	return n
}
