// Package sqlite implements the catalog Backend on an embedded SQLite
// database (modernc.org/sqlite, no cgo).
//
// Rates are stored as TEXT decimals so the value read back is exactly the
// value written; NULL means "not measured".
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/JonMunkholm/analyzer/internal/country"
)

// Repository implements catalog.Backend using SQLite.
type Repository struct {
	db *sql.DB
}

// New opens (or creates) the database at dsn and migrates the schema.
// Use ":memory:" for a throwaway database.
func New(ctx context.Context, dsn string) (*Repository, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: serialises writers and keeps ":memory:" databases alive.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	repo := &Repository{db: db}
	if err := repo.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return repo, nil
}

func (r *Repository) migrate(ctx context.Context) error {
	schema := `
	PRAGMA busy_timeout = 5000;

	CREATE TABLE IF NOT EXISTS countries (
		code TEXT PRIMARY KEY CHECK (length(code) = 3),
		name TEXT NOT NULL CHECK (length(name) BETWEEN 1 AND 32),
		internet_users TEXT,
		adult_literacy_rate TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`
	_, err := r.db.ExecContext(ctx, schema)
	return err
}

// Close releases the database handle.
func (r *Repository) Close() error {
	return r.db.Close()
}

// Ping reports whether the database is still reachable.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// ReadAll returns every country in insertion order.
func (r *Repository) ReadAll(ctx context.Context) ([]country.Country, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT code, name, internet_users, adult_literacy_rate
		FROM countries
		ORDER BY rowid
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query countries: %w", err)
	}
	defer rows.Close()

	var out []country.Country
	for rows.Next() {
		var row countryRow
		if err := rows.Scan(row.scanArgs()...); err != nil {
			return nil, fmt.Errorf("failed to scan country: %w", err)
		}

		c, err := row.toDomain()
		if err != nil {
			return nil, fmt.Errorf("country %s: %w", row.Code, err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating countries: %w", err)
	}
	return out, nil
}

// Insert adds a country. Fails with country.ErrDuplicateKey if the code exists.
func (r *Repository) Insert(ctx context.Context, c country.Country) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO countries (code, name, internet_users, adult_literacy_rate)
			VALUES (?, ?, ?, ?)
		`, c.Code, c.Name, rateToNull(c.InternetUsers), rateToNull(c.AdultLiteracyRate))
		if isPrimaryKeyViolation(err) {
			return fmt.Errorf("%w: %s", country.ErrDuplicateKey, c.Code)
		}
		if err != nil {
			return fmt.Errorf("failed to insert country: %w", err)
		}
		return nil
	})
}

// Update overwrites every column of an existing country.
func (r *Repository) Update(ctx context.Context, c country.Country) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE countries
			SET name = ?, internet_users = ?, adult_literacy_rate = ?, updated_at = CURRENT_TIMESTAMP
			WHERE code = ?
		`, c.Name, rateToNull(c.InternetUsers), rateToNull(c.AdultLiteracyRate), c.Code)
		if err != nil {
			return fmt.Errorf("failed to update country: %w", err)
		}
		return expectOneRow(res, c.Code)
	})
}

// Delete removes a country by code.
func (r *Repository) Delete(ctx context.Context, code string) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM countries WHERE code = ?`, code)
		if err != nil {
			return fmt.Errorf("failed to delete country: %w", err)
		}
		return expectOneRow(res, code)
	})
}

// withTx runs fn in a transaction, committing only if fn succeeds.
func (r *Repository) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() // no-op after commit

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

func expectOneRow(res sql.Result, code string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", country.ErrNotFound, code)
	}
	return nil
}

func isPrimaryKeyViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY || se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
}
