package ingest

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/JonMunkholm/analyzer/internal/country"
)

// MaxHeaderSearchRows is how many leading rows may precede the header
// (titles, notes, blank lines in spreadsheet exports).
var MaxHeaderSearchRows = 10

// Column names accepted for each field, after CleanHeader.
var (
	codeColumns     = []string{"code", "country_code", "iso3", "iso_code"}
	nameColumns     = []string{"name", "country", "country_name"}
	internetColumns = []string{"internet_users", "internet", "internetusers"}
	literacyColumns = []string{"adult_literacy_rate", "literacy", "literacy_rate", "adultliteracyrate"}
)

// ErrNoHeader is returned when no row within MaxHeaderSearchRows names
// both a code and a name column.
var ErrNoHeader = errors.New("no header row with code and name columns")

// columns holds the resolved positions of each field. A rate column that
// is absent from the file leaves every row unmeasured for that field.
type columns struct {
	code, name         int
	internet, literacy int
	hasInternet        bool
	hasLiteracy        bool
}

// ParseCSV reads a country batch from CSV.
func ParseCSV(r io.Reader) (*Batch, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	data = sanitizeUTF8(bytes.TrimPrefix(data, []byte(bom)))

	cr := csv.NewReader(bytes.NewReader(data))
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true

	// csv.Reader skips blank lines, so keep each record's source line.
	var records [][]string
	var lines []int
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: malformed csv: %w", country.ErrInvalidValue, err)
		}
		line, _ := cr.FieldPos(0)
		records = append(records, rec)
		lines = append(lines, line)
	}

	headerRow, cols, ok := findHeader(records)
	if !ok {
		return nil, fmt.Errorf("%w: %w", country.ErrInvalidValue, ErrNoHeader)
	}

	batch := &Batch{}
	for i := headerRow + 1; i < len(records); i++ {
		rec, line := records[i], lines[i]
		if isEmptyRow(rec) {
			continue
		}

		c, err := cols.build(rec)
		if err != nil {
			batch.fail(line, cellAt(rec, cols.code), err)
			continue
		}
		batch.Rows = append(batch.Rows, Row{Line: line, Country: c})
	}
	return batch, nil
}

func findHeader(records [][]string) (int, columns, bool) {
	limit := min(MaxHeaderSearchRows, len(records))
	for i := 0; i < limit; i++ {
		idx := MakeHeaderIndex(records[i])
		code, okCode := idx.Lookup(codeColumns...)
		name, okName := idx.Lookup(nameColumns...)
		if !okCode || !okName {
			continue
		}
		cols := columns{code: code, name: name}
		cols.internet, cols.hasInternet = idx.Lookup(internetColumns...)
		cols.literacy, cols.hasLiteracy = idx.Lookup(literacyColumns...)
		return i, cols, true
	}
	return 0, columns{}, false
}

func (c columns) build(rec []string) (country.Country, error) {
	var internet, literacy pgtype.Numeric
	var err error
	if c.hasInternet {
		if internet, err = ToNumeric(cellAt(rec, c.internet)); err != nil {
			return country.Country{}, fmt.Errorf("%s: %w", country.FieldInternetUsers, err)
		}
	}
	if c.hasLiteracy {
		if literacy, err = ToNumeric(cellAt(rec, c.literacy)); err != nil {
			return country.Country{}, fmt.Errorf("%s: %w", country.FieldAdultLiteracyRate, err)
		}
	}
	return country.New(
		strings.ToUpper(cellAt(rec, c.code)),
		cellAt(rec, c.name),
		country.WithInternetUsers(internet),
		country.WithAdultLiteracyRate(literacy),
	)
}

// cellAt returns the cleaned cell at i, or "" for a short row.
func cellAt(rec []string, i int) string {
	if i < 0 || i >= len(rec) {
		return ""
	}
	return CleanCell(rec[i])
}

func isEmptyRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// WriteCSV writes countries with a header row. Unmeasured rates are empty
// cells; measured rates keep their full stored precision.
func WriteCSV(w io.Writer, countries []country.Country) error {
	cw := csv.NewWriter(w)
	header := []string{"code", "name", country.FieldInternetUsers.String(), country.FieldAdultLiteracyRate.String()}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, c := range countries {
		row := []string{c.Code, c.Name, country.RateString(c.InternetUsers), country.RateString(c.AdultLiteracyRate)}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row %s: %w", c.Code, err)
		}
	}
	cw.Flush()
	return cw.Error()
}
