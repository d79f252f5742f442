// Package postgres implements the catalog Backend on PostgreSQL via a pgx
// connection pool.
//
// Rates are NUMERIC(11,8) columns scanned straight into pgtype.Numeric, so
// no float conversion happens on the way in or out. Each write runs in its
// own transaction; the deferred rollback releases the connection on every
// failure path.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/analyzer/internal/country"
)

// uniqueViolation is the SQLSTATE for a unique/primary-key conflict.
const uniqueViolation = "23505"

const schema = `
CREATE TABLE IF NOT EXISTS countries (
	seq                 BIGINT GENERATED ALWAYS AS IDENTITY,
	code                CHAR(3) PRIMARY KEY,
	name                VARCHAR(32) NOT NULL CHECK (name <> ''),
	internet_users      NUMERIC(11,8),
	adult_literacy_rate NUMERIC(11,8),
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Repository implements catalog.Backend using PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// countryRow maps a countries row for pgx.RowToStructByName.
type countryRow struct {
	Code              string         `db:"code"`
	Name              string         `db:"name"`
	InternetUsers     pgtype.Numeric `db:"internet_users"`
	AdultLiteracyRate pgtype.Numeric `db:"adult_literacy_rate"`
}

// New wraps an open pool and migrates the schema. The caller owns the pool.
func New(ctx context.Context, pool *pgxpool.Pool) (*Repository, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Repository{pool: pool}, nil
}

// Ping reports whether the pool can reach the server.
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// ReadAll returns every country in insertion order.
func (r *Repository) ReadAll(ctx context.Context) ([]country.Country, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT code, name, internet_users, adult_literacy_rate
		FROM countries
		ORDER BY seq
	`)
	if err != nil {
		return nil, fmt.Errorf("query countries: %w", err)
	}

	recs, err := pgx.CollectRows(rows, pgx.RowToStructByName[countryRow])
	if err != nil {
		return nil, fmt.Errorf("scan countries: %w", err)
	}

	out := make([]country.Country, len(recs))
	for i, rec := range recs {
		out[i] = country.Country{
			Code:              rec.Code,
			Name:              rec.Name,
			InternetUsers:     rec.InternetUsers,
			AdultLiteracyRate: rec.AdultLiteracyRate,
		}
	}
	return out, nil
}

// Insert adds a country. Fails with country.ErrDuplicateKey if the code exists.
func (r *Repository) Insert(ctx context.Context, c country.Country) error {
	return r.withTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO countries (code, name, internet_users, adult_literacy_rate)
			VALUES ($1, $2, $3, $4)
		`, c.Code, c.Name, c.InternetUsers, c.AdultLiteracyRate)
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", country.ErrDuplicateKey, c.Code)
		}
		if err != nil {
			return fmt.Errorf("insert country: %w", err)
		}
		return nil
	})
}

// Update overwrites every column of an existing country.
func (r *Repository) Update(ctx context.Context, c country.Country) error {
	return r.withTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE countries
			SET name = $2, internet_users = $3, adult_literacy_rate = $4, updated_at = now()
			WHERE code = $1
		`, c.Code, c.Name, c.InternetUsers, c.AdultLiteracyRate)
		if err != nil {
			return fmt.Errorf("update country: %w", err)
		}
		return expectOneRow(tag, c.Code)
	})
}

// Delete removes a country by code.
func (r *Repository) Delete(ctx context.Context, code string) error {
	return r.withTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM countries WHERE code = $1`, code)
		if err != nil {
			return fmt.Errorf("delete country: %w", err)
		}
		return expectOneRow(tag, code)
	})
}

// withTx runs fn in a transaction, committing only if fn succeeds.
func (r *Repository) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) // No-op if already committed

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func expectOneRow(tag pgconn.CommandTag, code string) error {
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", country.ErrNotFound, code)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
