// Package render turns search summaries into HTML.
package render

import (
	"bytes"
	"embed"
	"html/template"
	"io"
	"strings"

	"country-stats/internal/country"
	apperrors "country-stats/internal/errors"
	"country-stats/internal/stats"

	"github.com/dustin/go-humanize"
)

//go:embed templates/*.html.tmpl
var templateFS embed.FS

const defaultTitle = "Countries"

// PageData feeds the full document template.
type PageData struct {
	Title      string
	Term       string
	Field      country.NameField
	Summary    *stats.Summary
	Message    string
	Alert      bool
	Live       bool
	Standalone bool
}

type breakdownTable struct {
	Label string
	Rows  []stats.Count
}

var templates = template.Must(template.New("").Funcs(template.FuncMap{
	"comma": humanize.Comma,
	"join":  strings.Join,
	"breakdown": func(label string, rows []stats.Count) breakdownTable {
		return breakdownTable{Label: label, Rows: rows}
	},
}).ParseFS(templateFS, "templates/*.html.tmpl"))

// Page writes the complete HTML document.
func Page(w io.Writer, data PageData) error {
	if data.Title == "" {
		data.Title = defaultTitle
	}
	if data.Field == "" {
		data.Field = country.Common
	}
	return execute(w, "page", data)
}

// Results writes the results fragment: summary lines and the three tables.
func Results(w io.Writer, s *stats.Summary) error {
	return execute(w, "results", s)
}

// NoMatches writes the text shown when a search finds nothing.
func NoMatches(w io.Writer) error {
	return execute(w, "message", PageData{Message: apperrors.NoMatchesMessage})
}

// Alert writes msg as an error notice.
func Alert(w io.Writer, msg string) error {
	return execute(w, "message", PageData{Message: msg, Alert: true})
}

// Fragment renders whatever belongs in the results area for the outcome of
// a search: the tables, the no-match text, or the user-facing error.
func Fragment(s *stats.Summary, searchErr error) (string, error) {
	var buf bytes.Buffer
	var err error
	switch {
	case searchErr == nil:
		err = Results(&buf, s)
	case apperrors.Is(searchErr, apperrors.ErrNoMatches):
		err = NoMatches(&buf)
	default:
		err = Alert(&buf, apperrors.UserMessage(searchErr))
	}
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}

func execute(w io.Writer, name string, data interface{}) error {
	// Render into a buffer first so a template failure never leaves half a page.
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return apperrors.New(apperrors.ErrTypeRender, "failed to render "+name, err)
	}
	_, err := buf.WriteTo(w)
	return err
}
