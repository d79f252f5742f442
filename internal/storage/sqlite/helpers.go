package sqlite

import (
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/JonMunkholm/analyzer/internal/country"
)

// countryRow holds the columns of a countries query for scanning.
// Column order must match the SELECT in ReadAll.
type countryRow struct {
	Code              string
	Name              string
	InternetUsers     sql.NullString
	AdultLiteracyRate sql.NullString
}

func (r *countryRow) scanArgs() []any {
	return []any{&r.Code, &r.Name, &r.InternetUsers, &r.AdultLiteracyRate}
}

// toDomain converts a scanned row into a country.Country.
func (r *countryRow) toDomain() (country.Country, error) {
	internet, err := nullToRate(r.InternetUsers)
	if err != nil {
		return country.Country{}, fmt.Errorf("internet_users: %w", err)
	}
	literacy, err := nullToRate(r.AdultLiteracyRate)
	if err != nil {
		return country.Country{}, fmt.Errorf("adult_literacy_rate: %w", err)
	}
	return country.Country{
		Code:              r.Code,
		Name:              r.Name,
		InternetUsers:     internet,
		AdultLiteracyRate: literacy,
	}, nil
}

// nullToRate parses a nullable decimal column. NULL becomes a null rate.
func nullToRate(ns sql.NullString) (pgtype.Numeric, error) {
	if !ns.Valid {
		return pgtype.Numeric{}, nil
	}
	return country.ParseRate(ns.String)
}

// rateToNull formats a rate for a nullable TEXT column.
func rateToNull(n pgtype.Numeric) sql.NullString {
	if !n.Valid {
		return sql.NullString{}
	}
	return sql.NullString{String: country.RateString(n), Valid: true}
}
