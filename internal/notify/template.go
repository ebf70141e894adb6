package notify

import (
	"fmt"
	"html/template"
	"strings"

	"github.com/div360/tender-scraper/internal/domain"
)

// digestTemplate renders the run report as the digest email body. One
// section per department, one block per new tender. The digest is sent
// even when no new tenders were found so a silent scraper failure is
// distinguishable from a quiet portal.
var digestTemplate = template.Must(template.New("digest").Funcs(template.FuncMap{
	"rupees": formatRupees,
}).Parse(`<html>
<body>
<h2>Tender digest</h2>
<p>Run {{.RunID}} ({{.Reason}}) generated at {{.GeneratedAt.Format "2006-01-02 15:04:05 MST"}}.</p>
<p><b>{{.TotalNew}}</b> new tender(s) across {{len .Departments}} department(s).</p>
{{range .Departments}}
<h3>{{.Name}}</h3>
{{if .Err}}<p style="color:#a00">Scrape failed: {{.Err}}</p>{{end}}
<p>{{.Found}} tender(s) listed, {{len .NewTenders}} new.</p>
{{range .NewTenders}}
<hr>
<p><a href="{{.URL}}">{{.TenderID}}</a></p>
<ul>
<li>Organisation chain: {{.OrganizationChain}}</li>
{{if .Type}}<li>Tender type: {{.Type}}</li>{{end}}
<li>Tender value: {{rupees .Value}}</li>
{{range .Dates.Labelled}}<li>{{index . 0}}: {{index . 1}}</li>
{{end}}</ul>
{{end}}
{{if .FailedDetails}}
<p>Could not parse {{len .FailedDetails}} detail page(s):</p>
<ul>
{{range .FailedDetails}}<li>{{.}}</li>
{{end}}</ul>
{{end}}
{{end}}
</body>
</html>
`))

// RenderDigest produces the HTML body for a run report.
func RenderDigest(report domain.RunReport) (string, error) {
	var buf strings.Builder
	if err := digestTemplate.Execute(&buf, report); err != nil {
		return "", fmt.Errorf("render digest: %w", err)
	}
	return buf.String(), nil
}

// formatRupees prints a tender value with the portal's currency sign,
// or NA when the portal listed none.
func formatRupees(value *int64) string {
	if value == nil {
		return "NA"
	}
	return fmt.Sprintf("₹ %d", *value)
}
