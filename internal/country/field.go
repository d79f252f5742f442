package country

import (
	"fmt"
	"strings"
)

// Field names one of the two measured numeric columns of a Country.
type Field int

const (
	FieldInternetUsers Field = iota
	FieldAdultLiteracyRate
)

// Fields lists every numeric field in column order.
var Fields = []Field{FieldInternetUsers, FieldAdultLiteracyRate}

// String returns the snake_case column name used in URLs, CSV headers and
// the database.
func (f Field) String() string {
	switch f {
	case FieldInternetUsers:
		return "internet_users"
	case FieldAdultLiteracyRate:
		return "adult_literacy_rate"
	default:
		return fmt.Sprintf("field(%d)", int(f))
	}
}

// Label returns the human-readable column title.
func (f Field) Label() string {
	switch f {
	case FieldInternetUsers:
		return "Internet Users"
	case FieldAdultLiteracyRate:
		return "Adult Literacy Rate"
	default:
		return f.String()
	}
}

// ParseField accepts the column name, with dashes or underscores, in any case.
// "literacy" and "internet" are accepted as short forms.
func ParseField(s string) (Field, error) {
	key := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	switch key {
	case "internet_users", "internetusers", "internet":
		return FieldInternetUsers, nil
	case "adult_literacy_rate", "adultliteracyrate", "literacy_rate", "literacy":
		return FieldAdultLiteracyRate, nil
	}
	return 0, fmt.Errorf("%w: unknown field %q", ErrInvalidValue, s)
}
