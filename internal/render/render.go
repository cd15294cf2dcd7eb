package render

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"strconv"
	"strings"
	texttemplate "text/template"

	"github.com/Masterminds/sprig/v3"

	"packmail/internal/recipients"
)

//go:embed templates/*.tmpl
var templatesFS embed.FS

// PromoContext is the data handed to the promotional templates.
type PromoContext struct {
	Recipient  recipients.Recipient
	SenderName string
	BookingURL string
}

// ReportContext is the data handed to the admin report body template.
type ReportContext struct {
	SenderName string
	Succeeded  int
	Failed     int
	Rejected   []recipients.Rejected
}

// Renderer renders campaign emails from the embedded templates.
// It is safe for concurrent use after New.
type Renderer struct {
	promo   *template.Template
	subject *texttemplate.Template
	report  *texttemplate.Template
}

func New() (*Renderer, error) {
	htmlFuncs := sprig.HtmlFuncMap()
	htmlFuncs["usd"] = formatUSD
	txtFuncs := sprig.TxtFuncMap()
	txtFuncs["usd"] = formatUSD

	promo, err := template.New("promo.html.tmpl").Funcs(htmlFuncs).ParseFS(templatesFS, "templates/promo.html.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse promo template: %w", err)
	}
	subject, err := texttemplate.New("subject").Funcs(txtFuncs).Parse(subjectTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse subject template: %w", err)
	}
	report, err := texttemplate.New("report.txt.tmpl").Funcs(txtFuncs).ParseFS(templatesFS, "templates/report.txt.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse report template: %w", err)
	}
	return &Renderer{promo: promo, subject: subject, report: report}, nil
}

const subjectTemplate = `Join Our {{ .Recipient.TripName }} – Your Adventure Awaits!`

// Promo renders the subject and HTML body for one recipient.
func (r *Renderer) Promo(ctx PromoContext) (subject, body string, err error) {
	var sb bytes.Buffer
	if err := r.subject.Execute(&sb, ctx); err != nil {
		return "", "", fmt.Errorf("render subject: %w", err)
	}
	var bb bytes.Buffer
	if err := r.promo.Execute(&bb, ctx); err != nil {
		return "", "", fmt.Errorf("render body: %w", err)
	}
	return sb.String(), bb.String(), nil
}

// Report renders the plain-text admin report body.
func (r *Renderer) Report(ctx ReportContext) (string, error) {
	var b bytes.Buffer
	if err := r.report.Execute(&b, ctx); err != nil {
		return "", fmt.Errorf("render report: %w", err)
	}
	return b.String(), nil
}

// formatUSD renders 1234.5 as "$1,234.50".
func formatUSD(v float64) string {
	neg := v < 0
	if neg {
		v = -v
	}
	s := strconv.FormatFloat(v, 'f', 2, 64)
	dot := strings.IndexByte(s, '.')
	intPart, frac := s[:dot], s[dot:]

	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	b.WriteByte('$')
	for i, c := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(c)
	}
	b.WriteString(frac)
	return b.String()
}
