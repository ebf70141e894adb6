package scraper

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/div360/tender-scraper/internal/domain"
)

// TenderStore is the dedup store: a tender id that was seen in any
// previous run is never reported again.
type TenderStore interface {
	SeenTender(ctx context.Context, tenderID string) (bool, error)
	MarkTenderSeen(ctx context.Context, tender domain.Tender) error
}

// MetricsSink records pipeline metrics. All methods must be
// non-blocking and fire-and-forget.
type MetricsSink interface {
	TendersDiscovered(count int)
	TendersNew(count int)
}

// Config holds the pipeline's scrape parameters.
type Config struct {
	Departments []string

	// MaxTenderValue excludes tenders at or above this value; tenders
	// without a listed value are kept.
	MaxTenderValue int64

	// FailedHTMLDir receives detail pages that could not be parsed,
	// for offline diagnosis. Empty disables saving.
	FailedHTMLDir string
}

// Pipeline walks the portal once per trigger: main page, department
// listing, tender detail pages; filters by value, deduplicates against
// the store, and assembles the run report.
type Pipeline struct {
	fetcher *Fetcher
	store   TenderStore
	config  Config
	metrics MetricsSink // optional, nil = disabled
	clock   func() time.Time
}

func NewPipeline(fetcher *Fetcher, store TenderStore, config Config) *Pipeline {
	return &Pipeline{
		fetcher: fetcher,
		store:   store,
		config:  config,
		clock:   time.Now,
	}
}

// WithMetrics attaches a metrics sink to the pipeline.
func (p *Pipeline) WithMetrics(sink MetricsSink) *Pipeline {
	p.metrics = sink
	return p
}

// Execute runs one full scrape. It fails outright only when the main
// page or its department table is unusable; per-department and
// per-tender problems are recorded in the report and do not abort the
// run.
func (p *Pipeline) Execute(ctx context.Context, event domain.TriggerEvent) (domain.RunReport, error) {
	report := domain.RunReport{
		RunID:       event.RunID.String(),
		Reason:      event.Reason,
		GeneratedAt: p.clock().UTC(),
	}

	mainHTML, err := p.fetcher.Fetch(ctx, p.fetcher.MainPageURL())
	if err != nil {
		return report, fmt.Errorf("main page: %w", err)
	}
	mainDoc, err := parseDoc(mainHTML)
	if err != nil {
		return report, fmt.Errorf("parse main page: %w", err)
	}
	deptTable, err := departmentTable(mainDoc)
	if err != nil {
		return report, err
	}

	discovered, newCount := 0, 0
	for _, dept := range p.config.Departments {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		dr := p.scrapeDepartment(ctx, deptTable, dept)
		discovered += dr.Found
		newCount += len(dr.NewTenders)
		report.Departments = append(report.Departments, dr)
	}

	if p.metrics != nil {
		p.metrics.TendersDiscovered(discovered)
		p.metrics.TendersNew(newCount)
	}
	return report, nil
}

func (p *Pipeline) scrapeDepartment(ctx context.Context, deptTable *goquery.Selection, dept string) domain.DepartmentReport {
	dr := domain.DepartmentReport{Name: dept}
	log.Printf("scraper: processing department %q", dept)

	link, ok := departmentLink(deptTable, p.fetcher.BaseURL(), dept)
	if !ok {
		log.Printf("scraper: department %q not found in table", dept)
		dr.Err = "not found in department table"
		return dr
	}

	listingHTML, err := p.fetcher.Fetch(ctx, link)
	if err != nil {
		log.Printf("scraper: department %q listing: %v", dept, err)
		dr.Err = fmt.Sprintf("fetch listing: %v", err)
		return dr
	}
	listingDoc, err := parseDoc(listingHTML)
	if err != nil {
		dr.Err = fmt.Sprintf("parse listing: %v", err)
		return dr
	}

	links, err := tenderLinks(listingDoc, p.fetcher.BaseURL())
	if err != nil {
		dr.Err = err.Error()
		return dr
	}
	dr.Found = len(links)
	log.Printf("scraper: department %q has %d tenders listed", dept, len(links))

	for _, tenderURL := range links {
		if ctx.Err() != nil {
			return dr
		}
		p.scrapeTender(ctx, tenderURL, dept, &dr)
	}
	return dr
}

func (p *Pipeline) scrapeTender(ctx context.Context, tenderURL, dept string, dr *domain.DepartmentReport) {
	detailHTML, err := p.fetcher.Fetch(ctx, tenderURL)
	if err != nil {
		log.Printf("scraper: tender detail %s: %v", tenderURL, err)
		dr.FailedDetails = append(dr.FailedDetails, tenderURL)
		return
	}
	detailDoc, err := parseDoc(detailHTML)
	if err != nil {
		dr.FailedDetails = append(dr.FailedDetails, tenderURL)
		return
	}

	tender, skip, err := parseTenderDetail(detailDoc, p.config.MaxTenderValue)
	if err != nil {
		log.Printf("scraper: tender detail %s unparseable: %v", tenderURL, err)
		p.saveFailedHTML(detailHTML, tenderURL)
		dr.FailedDetails = append(dr.FailedDetails, tenderURL)
		return
	}
	if skip {
		return
	}

	seen, err := p.store.SeenTender(ctx, tender.TenderID)
	if err != nil {
		log.Printf("scraper: dedup check for %s: %v", tender.TenderID, err)
		return
	}
	if seen {
		return
	}

	tender.URL = tenderURL
	tender.Department = dept
	tender.FirstSeenAt = p.clock().UTC()

	if err := p.store.MarkTenderSeen(ctx, tender); err != nil {
		// Not marked means it will be reported again next run; better
		// a duplicate email than a silently dropped tender.
		log.Printf("scraper: mark seen %s: %v", tender.TenderID, err)
		return
	}

	log.Printf("scraper: new tender %s (department=%q)", tender.TenderID, dept)
	dr.NewTenders = append(dr.NewTenders, tender)
}

var unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9]`)

// saveFailedHTML stores an unparseable detail page under
// FailedHTMLDir with a name derived from the URL and timestamp.
func (p *Pipeline) saveFailedHTML(html, tenderURL string) {
	if p.config.FailedHTMLDir == "" {
		return
	}
	if err := os.MkdirAll(p.config.FailedHTMLDir, 0o755); err != nil {
		log.Printf("scraper: create %s: %v", p.config.FailedHTMLDir, err)
		return
	}

	safe := unsafeFilenameChars.ReplaceAllString(tenderURL, "_")
	name := fmt.Sprintf("failed_%s_%d.txt", safe, p.clock().Unix())
	path := filepath.Join(p.config.FailedHTMLDir, name)

	if err := os.WriteFile(path, []byte(html), 0o644); err != nil {
		log.Printf("scraper: save failed html: %v", err)
		return
	}
	log.Printf("scraper: saved failed tender html to %s", path)
}
