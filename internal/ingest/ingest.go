// Package ingest reads country batches from CSV or YAML, applies them to
// the catalog as create-or-update writes, and writes the catalog back out
// as CSV.
//
// Parsing never aborts on a bad row: each row that cannot become a valid
// Country is reported as a RowError and the rest of the file still loads.
package ingest

import (
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/JonMunkholm/analyzer/internal/country"
)

// Format is an import file format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatYAML Format = "yaml"
)

// Row is one parsed record and the source line it came from.
type Row struct {
	Line    int
	Country country.Country
}

// RowError describes a row that was skipped.
type RowError struct {
	Line    int    `json:"line"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

func (e RowError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("line %d (%s): %s", e.Line, e.Code, e.Message)
	}
	return fmt.Sprintf("line %d: %s", e.Line, e.Message)
}

// Batch is the outcome of parsing one file.
type Batch struct {
	Rows   []Row
	Failed []RowError
}

func (b *Batch) fail(line int, code string, err error) {
	b.Failed = append(b.Failed, RowError{Line: line, Code: code, Message: err.Error()})
}

// FormatFor picks a format from a file name or content type, defaulting
// to CSV.
func FormatFor(name, contentType string) Format {
	switch strings.ToLower(path.Ext(name)) {
	case ".yaml", ".yml":
		return FormatYAML
	case ".csv":
		return FormatCSV
	}
	if strings.Contains(strings.ToLower(contentType), "yaml") {
		return FormatYAML
	}
	return FormatCSV
}

// Parse reads a batch in the given format.
func Parse(r io.Reader, f Format) (*Batch, error) {
	switch f {
	case FormatYAML:
		return ParseYAML(r)
	case FormatCSV:
		return ParseCSV(r)
	default:
		return nil, fmt.Errorf("%w: unsupported import format %q", country.ErrInvalidValue, f)
	}
}
