package ingest

// convert.go cleans the spreadsheet artifacts users paste into import
// files: byte-order marks, Excel formula prefixes (="USA"), stray quotes,
// percent signs and thousands separators.

import (
	"bytes"
	"strings"
	"unicode/utf8"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/JonMunkholm/analyzer/internal/country"
)

const bom = "\ufeff"

// HeaderIndex maps a cleaned, lowercase column name to its position.
type HeaderIndex map[string]int

// MakeHeaderIndex builds the index once per file.
func MakeHeaderIndex(header []string) HeaderIndex {
	idx := make(HeaderIndex, len(header))
	for i, h := range header {
		key := CleanHeader(h)
		if _, seen := idx[key]; !seen {
			idx[key] = i
		}
	}
	return idx
}

// Lookup returns the position of the first column whose name is in names.
func (h HeaderIndex) Lookup(names ...string) (int, bool) {
	for _, n := range names {
		if i, ok := h[n]; ok {
			return i, true
		}
	}
	return 0, false
}

// CleanCell strips formula prefixes, surrounding quotes and whitespace.
func CleanCell(s string) string {
	s = strings.TrimSpace(strings.TrimPrefix(s, bom))

	if strings.HasPrefix(s, `="`) && strings.HasSuffix(s, `"`) && len(s) >= 3 {
		s = s[2 : len(s)-1]
	} else if strings.HasPrefix(s, "=") {
		s = s[1:]
	}

	return strings.TrimSpace(strings.Trim(s, `"'`))
}

// CleanHeader normalizes a column name: "Internet Users" and
// "internet-users" both become "internet_users".
func CleanHeader(s string) string {
	s = strings.ToLower(CleanCell(s))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(s)
}

// ToNumeric converts a cleaned cell to a rate. Empty cells are "not
// measured"; a trailing percent sign and thousands separators are dropped.
func ToNumeric(s string) (pgtype.Numeric, error) {
	s = CleanCell(s)
	s = strings.TrimSpace(strings.TrimSuffix(s, "%"))
	s = strings.ReplaceAll(s, ",", "")
	return country.ParseRate(s)
}

// sanitizeUTF8 replaces invalid byte sequences with U+FFFD so a stray
// Latin-1 export does not abort the whole file.
func sanitizeUTF8(data []byte) []byte {
	if utf8.Valid(data) {
		return data
	}

	var buf bytes.Buffer
	buf.Grow(len(data))
	for len(data) > 0 {
		r, size := utf8.DecodeRune(data)
		if r == utf8.RuneError && size == 1 {
			buf.WriteRune(utf8.RuneError)
			data = data[1:]
			continue
		}
		buf.WriteRune(r)
		data = data[size:]
	}
	return buf.Bytes()
}
