package web

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/a-h/templ"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/JonMunkholm/analyzer/internal/country"
	"github.com/JonMunkholm/analyzer/internal/stats"
)

// handleIndex renders the country table with the summary statistics.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	records := s.catalog.List()

	var summary *stats.Summary
	if sum, err := stats.Summarize(records); err == nil {
		summary = &sum
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := countriesPage(records, summary).Render(r.Context(), w); err != nil {
		s.respondError(w, r, err)
	}
}

// countriesPage lists every country. Rates are shown rounded to two
// decimals and unmeasured rates as "n/a"; stored values are untouched.
func countriesPage(records []country.Country, summary *stats.Summary) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		p := &printer{w: w}
		p.raw(`<!DOCTYPE html><html lang="en"><head><meta charset="utf-8">`)
		p.raw(`<title>Country Analyzer</title>`)
		p.raw(`<style>body{font-family:sans-serif;margin:2rem}table{border-collapse:collapse}` +
			`td,th{border:1px solid #ccc;padding:.3rem .6rem}td.num{text-align:right}</style>`)
		p.raw(`</head><body><h1>Countries</h1>`)

		p.raw(`<table><thead><tr><th>Code</th><th>Name</th>`)
		p.raw(`<th>` + templ.EscapeString(country.FieldInternetUsers.Label()) + `</th>`)
		p.raw(`<th>` + templ.EscapeString(country.FieldAdultLiteracyRate.Label()) + `</th>`)
		p.raw(`</tr></thead><tbody>`)
		for _, c := range records {
			p.raw(`<tr><td>`)
			p.text(c.Code)
			p.raw(`</td><td>`)
			p.text(c.Name)
			p.raw(`</td><td class="num">`)
			p.text(displayRate(c.InternetUsers))
			p.raw(`</td><td class="num">`)
			p.text(displayRate(c.AdultLiteracyRate))
			p.raw(`</td></tr>`)
		}
		if len(records) == 0 {
			p.raw(`<tr><td colspan="4">No countries yet.</td></tr>`)
		}
		p.raw(`</tbody></table>`)

		if summary != nil {
			p.raw(`<h2>Statistics</h2><ul>`)
			p.item(fmt.Sprintf("%d of %d countries have both rates", summary.Eligible, summary.Total))
			p.item("Lowest internet usage: " + extremeLine(summary.MinInternetUsers, country.FieldInternetUsers))
			p.item("Highest internet usage: " + extremeLine(summary.MaxInternetUsers, country.FieldInternetUsers))
			p.item("Lowest adult literacy: " + extremeLine(summary.MinAdultLiteracyRate, country.FieldAdultLiteracyRate))
			p.item("Highest adult literacy: " + extremeLine(summary.MaxAdultLiteracyRate, country.FieldAdultLiteracyRate))
			if summary.Correlation != nil {
				p.item("Correlation: " + strconv.FormatFloat(*summary.Correlation, 'f', 4, 64))
			} else {
				p.item("Correlation: not enough data")
			}
			p.raw(`</ul>`)
		}

		p.raw(`<p><a href="/api/export">Download CSV</a></p></body></html>`)
		return p.err
	})
}

func displayRate(n pgtype.Numeric) string {
	if !n.Valid {
		return "n/a"
	}
	return country.RateDisplay(n)
}

func extremeLine(c country.Country, f country.Field) string {
	return fmt.Sprintf("%s (%s) %s%%", c.Name, c.Code, country.RateDisplay(c.Value(f)))
}

// printer writes HTML fragments, remembering the first write error.
type printer struct {
	w   io.Writer
	err error
}

func (p *printer) raw(s string) {
	if p.err == nil {
		_, p.err = io.WriteString(p.w, s)
	}
}

func (p *printer) text(s string) {
	p.raw(templ.EscapeString(s))
}

func (p *printer) item(s string) {
	p.raw(`<li>`)
	p.text(s)
	p.raw(`</li>`)
}
