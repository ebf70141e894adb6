package notify

import (
	"strings"
	"testing"
	"time"

	"github.com/div360/tender-scraper/internal/domain"
)

func i64(v int64) *int64 { return &v }

func sampleReport() domain.RunReport {
	return domain.RunReport{
		RunID:       "7b1c3d9e-0000-0000-0000-000000000001",
		Reason:      domain.TriggerReasonScheduled,
		GeneratedAt: time.Date(2024, 1, 5, 0, 2, 0, 0, time.UTC),
		Departments: []domain.DepartmentReport{
			{
				Name:  "Public Health Engineering Department",
				Found: 12,
				NewTenders: []domain.Tender{
					{
						TenderID:          "2024_PHED_312456_1",
						URL:               "https://eproc.rajasthan.gov.in/tender/312456",
						Department:        "Public Health Engineering Department",
						Value:             i64(1250000),
						OrganizationChain: "PHED||Jaipur Region||City Circle",
						Type:              "Open Tender",
						Dates: domain.TenderDates{
							Published:        "04-Jan-2024 05:00 PM",
							BidSubmissionEnd: "18-Jan-2024 03:00 PM",
							BidOpening:       "19-Jan-2024 03:30 PM",
						},
					},
					{
						TenderID:   "2024_PHED_312460_1",
						URL:        "https://eproc.rajasthan.gov.in/tender/312460",
						Department: "Public Health Engineering Department",
						Value:      nil,
					},
				},
			},
		},
	}
}

func TestRenderDigest_ContainsTenders(t *testing.T) {
	body, err := RenderDigest(sampleReport())
	if err != nil {
		t.Fatalf("RenderDigest failed: %v", err)
	}

	for _, want := range []string{
		"2024_PHED_312456_1",
		"https://eproc.rajasthan.gov.in/tender/312456",
		"PHED||Jaipur Region||City Circle",
		"Open Tender",
		"₹ 1250000",
		"Bid Submission End Date: 18-Jan-2024 03:00 PM",
		"<b>2</b> new tender(s)",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("digest missing %q", want)
		}
	}
}

func TestRenderDigest_NAValue(t *testing.T) {
	body, err := RenderDigest(sampleReport())
	if err != nil {
		t.Fatalf("RenderDigest failed: %v", err)
	}

	if !strings.Contains(body, "Tender value: NA") {
		t.Error("nil value should render as NA")
	}
}

func TestRenderDigest_DepartmentFailure(t *testing.T) {
	report := domain.RunReport{
		RunID:       "7b1c3d9e-0000-0000-0000-000000000002",
		Reason:      domain.TriggerReasonManual,
		GeneratedAt: time.Now().UTC(),
		Departments: []domain.DepartmentReport{
			{Name: "Water Resources Department", Err: "department link not found"},
		},
	}

	body, err := RenderDigest(report)
	if err != nil {
		t.Fatalf("RenderDigest failed: %v", err)
	}
	if !strings.Contains(body, "Scrape failed: department link not found") {
		t.Error("digest missing department failure note")
	}
}

func TestRenderDigest_FailedDetails(t *testing.T) {
	report := sampleReport()
	report.Departments[0].FailedDetails = []string{
		"https://eproc.rajasthan.gov.in/tender/999999",
	}

	body, err := RenderDigest(report)
	if err != nil {
		t.Fatalf("RenderDigest failed: %v", err)
	}
	if !strings.Contains(body, "Could not parse 1 detail page(s)") {
		t.Error("digest missing failed detail summary")
	}
	if !strings.Contains(body, "tender/999999") {
		t.Error("digest missing failed detail URL")
	}
}

// An empty run still produces a digest so a quiet portal is
// distinguishable from a dead scraper.
func TestRenderDigest_NoNewTenders(t *testing.T) {
	report := domain.RunReport{
		RunID:       "7b1c3d9e-0000-0000-0000-000000000003",
		Reason:      domain.TriggerReasonScheduled,
		GeneratedAt: time.Now().UTC(),
		Departments: []domain.DepartmentReport{
			{Name: "Forest Department", Found: 4},
		},
	}

	body, err := RenderDigest(report)
	if err != nil {
		t.Fatalf("RenderDigest failed: %v", err)
	}
	if !strings.Contains(body, "<b>0</b> new tender(s)") {
		t.Error("zero-new digest missing total line")
	}
	if !strings.Contains(body, "4 tender(s) listed, 0 new") {
		t.Error("zero-new digest missing department line")
	}
}

func TestFormatRupees(t *testing.T) {
	if got := formatRupees(nil); got != "NA" {
		t.Errorf("formatRupees(nil) = %q, want NA", got)
	}
	if got := formatRupees(i64(2999999)); got != "₹ 2999999" {
		t.Errorf("formatRupees = %q", got)
	}
}
