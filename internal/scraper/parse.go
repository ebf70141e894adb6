package scraper

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/div360/tender-scraper/internal/domain"
)

// Parsing errors for the portal's HTML. The markup has no ids or
// stable classes beyond list_table/tablebg, so everything is matched
// positionally the way the original job did.
var (
	ErrDepartmentTableNotFound = errors.New("department table not found")
	ErrTenderTableNotFound     = errors.New("tender table not found")
	ErrDetailTableNotFound     = errors.New("tender detail table not found")
	ErrValueNotFound           = errors.New("tender value not found")
)

func parseDoc(html string) (*goquery.Document, error) {
	return goquery.NewDocumentFromReader(strings.NewReader(html))
}

// departmentTable locates the organisation listing on the main page:
// the third table with class list_table.
func departmentTable(doc *goquery.Document) (*goquery.Selection, error) {
	tables := doc.Find("table.list_table")
	if tables.Length() < 3 {
		return nil, ErrDepartmentTableNotFound
	}
	return tables.Eq(2), nil
}

// departmentLink searches the department table for a row whose
// organisation name (second cell) exactly matches deptName and returns
// the listing link from the third cell, resolved against baseURL.
func departmentLink(table *goquery.Selection, baseURL, deptName string) (string, bool) {
	var link string
	table.Find("tr").EachWithBreak(func(_ int, row *goquery.Selection) bool {
		cells := row.Find("td")
		if cells.Length() < 3 {
			return true
		}
		if strings.TrimSpace(cells.Eq(1).Text()) != deptName {
			return true
		}
		href, ok := cells.Eq(2).Find("a").First().Attr("href")
		if !ok {
			return true
		}
		link = baseURL + strings.TrimSpace(href)
		return false
	})
	return link, link != ""
}

// tenderLinks extracts tender detail links from an organisation page:
// the first list_table, fifth cell of each row ("Title and
// Ref.No./Tender ID").
func tenderLinks(doc *goquery.Document, baseURL string) ([]string, error) {
	table := doc.Find("table.list_table").First()
	if table.Length() == 0 {
		return nil, ErrTenderTableNotFound
	}

	var links []string
	table.Find("tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < 5 {
			return
		}
		if href, ok := cells.Eq(4).Find("a").First().Attr("href"); ok {
			links = append(links, baseURL+strings.TrimSpace(href))
		}
	})
	return links, nil
}

// parseTenderDetail extracts one tender from its detail page.
// Tenders at or above maxValue are skipped (skip=true, no error);
// a nil value ("NA" on the portal) is kept.
func parseTenderDetail(doc *goquery.Document, maxValue int64) (domain.Tender, bool, error) {
	valueText, ok := findLabelledValue(doc, "Tender Value in ₹")
	if !ok {
		return domain.Tender{}, false, ErrValueNotFound
	}

	value, err := parseTenderValue(valueText)
	if err != nil {
		return domain.Tender{}, false, fmt.Errorf("tender value %q: %w", valueText, err)
	}
	if value != nil && *value >= maxValue {
		return domain.Tender{}, true, nil
	}

	tenderID, orgChain, err := tenderIDAndChain(doc)
	if err != nil {
		return domain.Tender{}, false, err
	}

	tender := domain.Tender{
		TenderID:          tenderID,
		Value:             value,
		OrganizationChain: orgChain,
		Type:              captionValue(doc, "Tender Type"),
		Dates:             tenderDates(doc),
	}
	return tender, false, nil
}

// parseTenderValue normalizes the portal's display value: commas and
// the rupee sign are stripped; "NA" or empty means no value listed.
func parseTenderValue(text string) (*int64, error) {
	clean := strings.TrimSpace(strings.ReplaceAll(strings.ReplaceAll(text, ",", ""), "₹", ""))
	if clean == "" || strings.EqualFold(clean, "NA") {
		return nil, nil
	}
	f, err := strconv.ParseFloat(clean, 64)
	if err != nil {
		return nil, err
	}
	v := int64(f)
	return &v, nil
}

// tenderIDAndChain reads the detail header table (class tablebg): the
// organisation chain sits in the first row, the tender id in the third.
func tenderIDAndChain(doc *goquery.Document) (tenderID, orgChain string, err error) {
	table := doc.Find("table.tablebg").First()
	if table.Length() == 0 {
		return "", "", ErrDetailTableNotFound
	}

	rows := table.Find("tr")
	if rows.Length() < 3 {
		return "", "", fmt.Errorf("%w: want 3 rows, got %d", ErrDetailTableNotFound, rows.Length())
	}

	orgChain = strings.TrimSpace(rows.Eq(0).Find("td").Eq(1).Find("b").First().Text())
	tenderID = strings.TrimSpace(rows.Eq(2).Find("td").Eq(1).Find("b").First().Text())
	if tenderID == "" {
		return "", "", fmt.Errorf("%w: empty tender id", ErrDetailTableNotFound)
	}
	return tenderID, orgChain, nil
}

// tenderDates collects the critical dates from the detail page. Each
// date sits in the cell following a <b> label.
func tenderDates(doc *goquery.Document) domain.TenderDates {
	return domain.TenderDates{
		Published:          findDate(doc, "Published Date"),
		SaleStart:          findDate(doc, "Document Download / Sale Start Date"),
		ClarificationStart: findDate(doc, "Clarification Start Date"),
		BidSubmissionStart: findDate(doc, "Bid Submission Start Date"),
		BidOpening:         findDate(doc, "Bid Opening Date"),
		SaleEnd:            findDate(doc, "Sale End Date"),
		ClarificationEnd:   findDate(doc, "Clarification End Date"),
		BidSubmissionEnd:   findDate(doc, "Bid Submission End Date"),
	}
}

func findDate(doc *goquery.Document, label string) string {
	var value string
	doc.Find("b").EachWithBreak(func(_ int, b *goquery.Selection) bool {
		if !strings.Contains(b.Text(), label) {
			return true
		}
		next := b.Closest("td").Next()
		if next.Length() == 0 {
			return true
		}
		value = strings.TrimSpace(next.Text())
		return false
	})
	return value
}

// captionValue finds a td.td_caption whose text contains label and
// returns the text of its immediate sibling cell.
func captionValue(doc *goquery.Document, label string) string {
	var value string
	doc.Find("td.td_caption").EachWithBreak(func(_ int, td *goquery.Selection) bool {
		if !containsFold(td.Text(), label) {
			return true
		}
		sib := td.Next()
		if sib.Length() == 0 {
			return true
		}
		value = strings.TrimSpace(sib.Text())
		return false
	})
	return value
}

// findLabelledValue finds the innermost td containing label (skipping
// tds that wrap nested tables) and returns its sibling cell's text.
func findLabelledValue(doc *goquery.Document, label string) (string, bool) {
	var value string
	var found bool
	doc.Find("td").EachWithBreak(func(_ int, td *goquery.Selection) bool {
		if !strings.Contains(td.Text(), label) || td.Find("table").Length() > 0 {
			return true
		}
		sib := td.Next()
		if sib.Length() == 0 {
			return true
		}
		value = strings.TrimSpace(sib.Text())
		found = true
		return false
	})
	return value, found
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
