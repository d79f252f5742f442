// Package country defines the Country record, its validation rules and the
// error kinds shared by the catalog, the aggregator and the storage backends.
package country

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/jackc/pgx/v5/pgtype"
)

// MaxNameLength is the longest name the store accepts (VARCHAR(32)).
const MaxNameLength = 32

// codeRegex matches a three-letter uppercase country code.
var codeRegex = regexp.MustCompile(`^[A-Z]{3}$`)

// Country is one catalog record. Code is the identity key and never changes
// after creation; the other fields are replaced wholesale on update.
//
// A rate with Valid == false means "not measured" and is stored as NULL.
type Country struct {
	Code              string         `json:"code"`
	Name              string         `json:"name"`
	InternetUsers     pgtype.Numeric `json:"internet_users"`
	AdultLiteracyRate pgtype.Numeric `json:"adult_literacy_rate"`
}

// Option sets an optional field on a Country under construction.
type Option func(*Country)

// WithInternetUsers sets the internet-usage rate.
func WithInternetUsers(n pgtype.Numeric) Option {
	return func(c *Country) { c.InternetUsers = n }
}

// WithAdultLiteracyRate sets the adult-literacy rate.
func WithAdultLiteracyRate(n pgtype.Numeric) Option {
	return func(c *Country) { c.AdultLiteracyRate = n }
}

// New builds a validated Country. Code and name are mandatory; the rates
// default to "not measured".
func New(code, name string, opts ...Option) (Country, error) {
	c := Country{Code: code, Name: name}
	for _, opt := range opts {
		opt(&c)
	}
	if err := c.Validate(); err != nil {
		return Country{}, err
	}
	return c, nil
}

// Validate checks the record against the storage contract.
func (c Country) Validate() error {
	if !codeRegex.MatchString(c.Code) {
		return fmt.Errorf("%w: code %q must be exactly 3 uppercase letters", ErrInvalidValue, c.Code)
	}
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidValue)
	}
	if n := utf8.RuneCountInString(c.Name); n > MaxNameLength {
		return fmt.Errorf("%w: name is %d characters, max %d", ErrInvalidValue, n, MaxNameLength)
	}
	for _, f := range Fields {
		if err := validateRate(f, c.Value(f)); err != nil {
			return err
		}
	}
	return nil
}

// Value returns the named rate.
func (c Country) Value(f Field) pgtype.Numeric {
	switch f {
	case FieldInternetUsers:
		return c.InternetUsers
	case FieldAdultLiteracyRate:
		return c.AdultLiteracyRate
	default:
		return pgtype.Numeric{}
	}
}

// Measured reports whether both rates are present. Only measured records
// take part in statistics.
func (c Country) Measured() bool {
	return c.InternetUsers.Valid && c.AdultLiteracyRate.Valid
}

// Equal compares two records field by field, rates by numeric value.
func Equal(a, b Country) bool {
	return a.Code == b.Code &&
		a.Name == b.Name &&
		RateEqual(a.InternetUsers, b.InternetUsers) &&
		RateEqual(a.AdultLiteracyRate, b.AdultLiteracyRate)
}

// Clone returns a copy of c that shares no memory with it. A
// pgtype.Numeric holds a *big.Int, so a plain struct copy would still let
// two records mutate the same digits.
func (c Country) Clone() Country {
	c.InternetUsers = cloneRate(c.InternetUsers)
	c.AdultLiteracyRate = cloneRate(c.AdultLiteracyRate)
	return c
}

// String renders the record on one line for logs.
func (c Country) String() string {
	return fmt.Sprintf("%s %q internet=%s literacy=%s",
		c.Code, c.Name, orNull(RateString(c.InternetUsers)), orNull(RateString(c.AdultLiteracyRate)))
}

func orNull(s string) string {
	if s == "" {
		return "null"
	}
	return s
}
