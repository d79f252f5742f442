package country

// decimal.go holds the fixed-point helpers for the two measured rates.
//
// Rates are carried as pgtype.Numeric end to end so that a value read back
// from the database is digit-for-digit the value that was written. Float
// conversion happens only at the statistics boundary (RateFloat).

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5/pgtype"
)

const (
	// RateScale is the number of fractional digits the store keeps (NUMERIC(11,8)).
	RateScale = 8

	// MaxRate is the upper bound of a percentage rate.
	MaxRate = 100
)

// rateRegex validates a plain decimal literal: no exponent, no separators.
var rateRegex = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)$`)

var (
	bigTen     = big.NewInt(10)
	maxRateRat = big.NewRat(MaxRate, 1)
)

// ParseRate parses a decimal string into a Numeric.
// An empty (or whitespace-only) string is the "not measured" state and
// yields an invalid Numeric with a nil error.
func ParseRate(s string) (pgtype.Numeric, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return pgtype.Numeric{}, nil
	}
	if !rateRegex.MatchString(s) {
		return pgtype.Numeric{}, fmt.Errorf("%w: invalid number %q", ErrInvalidValue, s)
	}

	sign := ""
	if s[0] == '+' || s[0] == '-' {
		if s[0] == '-' {
			sign = "-"
		}
		s = s[1:]
	}

	intPart, fracPart, _ := strings.Cut(s, ".")
	digits := sign + intPart + fracPart
	if intPart+fracPart == "" {
		return pgtype.Numeric{}, fmt.Errorf("%w: invalid number %q", ErrInvalidValue, s)
	}

	i, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return pgtype.Numeric{}, fmt.Errorf("%w: invalid number %q", ErrInvalidValue, s)
	}
	return pgtype.Numeric{Int: i, Exp: int32(-len(fracPart)), Valid: true}, nil
}

func cloneRate(n pgtype.Numeric) pgtype.Numeric {
	if n.Int != nil {
		n.Int = new(big.Int).Set(n.Int)
	}
	return n
}

// MustRate is ParseRate for literals known to be valid. It panics otherwise.
func MustRate(s string) pgtype.Numeric {
	n, err := ParseRate(s)
	if err != nil {
		panic(err)
	}
	return n
}

// RateFloat converts a measured rate to float64.
// ok is false for a null, NaN or infinite value.
func RateFloat(n pgtype.Numeric) (f float64, ok bool) {
	if !n.Valid || n.NaN || n.InfinityModifier != pgtype.Finite {
		return 0, false
	}
	f8, err := n.Float64Value()
	if err != nil || !f8.Valid {
		return 0, false
	}
	return f8.Float64, true
}

// RateString formats a rate without trailing fractional zeros.
// A null rate formats as "".
func RateString(n pgtype.Numeric) string {
	if !n.Valid {
		return ""
	}
	if n.NaN {
		return "NaN"
	}
	i, exp := normalize(n)
	if exp >= 0 {
		return new(big.Int).Mul(i, pow10(exp)).String()
	}
	return new(big.Rat).SetFrac(i, pow10(-exp)).FloatString(int(-exp))
}

// RateDisplay formats a rate to two decimal places, rounding half up.
// Display only: the stored value keeps its full precision.
func RateDisplay(n pgtype.Numeric) string {
	r, ok := toRat(n)
	if !ok {
		return ""
	}
	return r.FloatString(2)
}

// RateEqual reports whether two rates hold the same value. Two nulls are equal.
func RateEqual(a, b pgtype.Numeric) bool {
	if !a.Valid || !b.Valid {
		return a.Valid == b.Valid
	}
	ra, okA := toRat(a)
	rb, okB := toRat(b)
	if !okA || !okB {
		return false
	}
	return ra.Cmp(rb) == 0
}

// validateRate checks a present rate against the storage column and the
// percentage range.
func validateRate(field Field, n pgtype.Numeric) error {
	if !n.Valid {
		return nil
	}
	if n.NaN || n.InfinityModifier != pgtype.Finite {
		return fmt.Errorf("%w: %s must be a finite number", ErrInvalidValue, field)
	}

	_, exp := normalize(n)
	if exp < -RateScale {
		return fmt.Errorf("%w: %s has more than %d decimal places", ErrInvalidValue, field, RateScale)
	}

	r, _ := toRat(n)
	if r.Sign() < 0 || r.Cmp(maxRateRat) > 0 {
		return fmt.Errorf("%w: %s %s out of range 0-%d", ErrInvalidValue, field, RateString(n), MaxRate)
	}
	return nil
}

// normalize strips trailing zeros from the coefficient, so that 87.50
// (8750e-2) becomes 875e-1.
func normalize(n pgtype.Numeric) (*big.Int, int32) {
	if n.Int == nil || n.Int.Sign() == 0 {
		return new(big.Int), 0
	}
	i := new(big.Int).Set(n.Int)
	exp := n.Exp
	q, r := new(big.Int), new(big.Int)
	for {
		q.QuoRem(i, bigTen, r)
		if r.Sign() != 0 {
			break
		}
		i.Set(q)
		exp++
	}
	return i, exp
}

func toRat(n pgtype.Numeric) (*big.Rat, bool) {
	if !n.Valid || n.NaN || n.InfinityModifier != pgtype.Finite {
		return nil, false
	}
	i := n.Int
	if i == nil {
		i = new(big.Int)
	}
	if n.Exp >= 0 {
		return new(big.Rat).SetInt(new(big.Int).Mul(i, pow10(n.Exp))), true
	}
	return new(big.Rat).SetFrac(i, pow10(-n.Exp)), true
}

func pow10(exp int32) *big.Int {
	return new(big.Int).Exp(bigTen, big.NewInt(int64(exp)), nil)
}
