// Package stats computes aggregate queries over a snapshot of countries.
//
// Every function here is pure: it reads the slice it is given and keeps no
// state. Only measured records (both rates present) take part; records with
// a missing rate are skipped, never treated as zero.
package stats

import (
	"fmt"
	"math"

	"github.com/JonMunkholm/analyzer/internal/country"
)

// Summary is the full analysis report over one snapshot.
type Summary struct {
	Total    int `json:"total"`
	Eligible int `json:"eligible"`

	MinInternetUsers     country.Country `json:"min_internet_users"`
	MaxInternetUsers     country.Country `json:"max_internet_users"`
	MinAdultLiteracyRate country.Country `json:"min_adult_literacy_rate"`
	MaxAdultLiteracyRate country.Country `json:"max_adult_literacy_rate"`

	// Correlation is the Pearson coefficient between internet usage and
	// adult literacy. Nil when fewer than two records are measured or a
	// field has no variance.
	Correlation *float64 `json:"correlation"`
}

// Eligible returns the measured records in snapshot order.
func Eligible(records []country.Country) []country.Country {
	out := make([]country.Country, 0, len(records))
	for _, c := range records {
		if c.Measured() {
			out = append(out, c)
		}
	}
	return out
}

// MinBy returns the measured record with the smallest value of f.
// Ties go to the record that appears first.
func MinBy(records []country.Country, f country.Field) (country.Country, error) {
	return extreme(records, f, func(v, best float64) bool { return v < best })
}

// MaxBy returns the measured record with the largest value of f.
// Ties go to the record that appears first.
func MaxBy(records []country.Country, f country.Field) (country.Country, error) {
	return extreme(records, f, func(v, best float64) bool { return v > best })
}

func extreme(records []country.Country, f country.Field, better func(v, best float64) bool) (country.Country, error) {
	var (
		best  country.Country
		bestV float64
		found bool
	)
	for _, c := range records {
		if !c.Measured() {
			continue
		}
		v, ok := country.RateFloat(c.Value(f))
		if !ok {
			continue
		}
		if !found || better(v, bestV) {
			best, bestV, found = c, v, true
		}
	}
	if !found {
		return country.Country{}, fmt.Errorf("%w: no measured countries for %s", country.ErrInsufficientData, f)
	}
	return best, nil
}

// Correlation returns the Pearson product-moment correlation coefficient
// between fields a and b over the measured records:
//
//	r = Σ(xi−x̄)(yi−ȳ) / sqrt(Σ(xi−x̄)² · Σ(yi−ȳ)²)
//
// At least two measured records are required, and neither field may be
// constant. The result is clamped to [-1, 1].
func Correlation(records []country.Country, a, b country.Field) (float64, error) {
	xs, ys := columns(records, a, b)
	n := len(xs)
	if n < 2 {
		return 0, fmt.Errorf("%w: correlation needs at least 2 measured countries, have %d",
			country.ErrInsufficientData, n)
	}

	meanX, meanY := mean(xs), mean(ys)

	var sxy, sxx, syy float64
	for i := range xs {
		dx := xs[i] - meanX
		dy := ys[i] - meanY
		sxy += dx * dy
		sxx += dx * dx
		syy += dy * dy
	}

	denom := math.Sqrt(sxx * syy)
	if denom == 0 || math.IsNaN(denom) {
		return 0, fmt.Errorf("%w: %s or %s has no variance", country.ErrInsufficientData, a, b)
	}

	r := sxy / denom
	return math.Max(-1, math.Min(1, r)), nil
}

// Summarize builds the analysis report for one snapshot. It fails only when
// no record is measured; a correlation that is undefined is left nil.
func Summarize(records []country.Country) (Summary, error) {
	s := Summary{Total: len(records), Eligible: len(Eligible(records))}

	var err error
	if s.MinInternetUsers, err = MinBy(records, country.FieldInternetUsers); err != nil {
		return Summary{}, err
	}
	if s.MaxInternetUsers, err = MaxBy(records, country.FieldInternetUsers); err != nil {
		return Summary{}, err
	}
	if s.MinAdultLiteracyRate, err = MinBy(records, country.FieldAdultLiteracyRate); err != nil {
		return Summary{}, err
	}
	if s.MaxAdultLiteracyRate, err = MaxBy(records, country.FieldAdultLiteracyRate); err != nil {
		return Summary{}, err
	}

	if r, err := Correlation(records, country.FieldInternetUsers, country.FieldAdultLiteracyRate); err == nil {
		s.Correlation = &r
	}
	return s, nil
}

// columns extracts paired float values of a and b from the measured records.
func columns(records []country.Country, a, b country.Field) (xs, ys []float64) {
	for _, c := range records {
		if !c.Measured() {
			continue
		}
		x, okX := country.RateFloat(c.Value(a))
		y, okY := country.RateFloat(c.Value(b))
		if !okX || !okY {
			continue
		}
		xs = append(xs, x)
		ys = append(ys, y)
	}
	return xs, ys
}

func mean(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
