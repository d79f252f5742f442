// Package catalog keeps the in-memory working set of countries and the
// persistent store in step.
//
// The cache is loaded once from a Backend and is authoritative for reads:
// List, FindByCode and the statistics never touch the Backend. Writes go to
// the Backend first and only reach the cache once the Backend call has
// committed, so a failed commit leaves the catalog exactly as it was.
//
// A Catalog is safe for concurrent use. Each write holds the write lock
// across validation, the Backend commit and the cache mutation; reads copy
// the cache under the read lock.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JonMunkholm/analyzer/internal/country"
	"github.com/JonMunkholm/analyzer/internal/stats"
)

// Backend is the durable store behind a Catalog. Every method is atomic:
// on error the store is as if the call never happened.
//
// Insert must fail with country.ErrDuplicateKey when the code exists;
// Update and Delete must fail with country.ErrNotFound when it does not.
// Any other error is treated as a storage failure.
type Backend interface {
	ReadAll(ctx context.Context) ([]country.Country, error)
	Insert(ctx context.Context, c country.Country) error
	Update(ctx context.Context, c country.Country) error
	Delete(ctx context.Context, code string) error
}

// Catalog is the authoritative in-memory view of all countries.
type Catalog struct {
	backend Backend

	mu      sync.RWMutex
	records []country.Country // load/insert order
	index   map[string]int    // code -> position in records
}

// Load reads every record from the backend and returns a ready Catalog.
// No catalog is returned if the full scan fails.
func Load(ctx context.Context, backend Backend) (*Catalog, error) {
	records, err := backend.ReadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w: %w", country.ErrStorageUnavailable, err)
	}

	c := &Catalog{
		backend: backend,
		records: make([]country.Country, 0, len(records)),
		index:   make(map[string]int, len(records)),
	}
	for _, r := range records {
		if _, dup := c.index[r.Code]; dup {
			return nil, fmt.Errorf("load catalog: %w: %s", country.ErrDuplicateKey, r.Code)
		}
		c.index[r.Code] = len(c.records)
		c.records = append(c.records, r.Clone())
	}
	return c, nil
}

// List returns a deep copy of every record in load/insert order.
func (c *Catalog) List() []country.Country {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot()
}

// Len returns the number of records.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.records)
}

// FindByCode returns the record with exactly this code.
func (c *Catalog) FindByCode(code string) (country.Country, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	i, ok := c.index[code]
	if !ok {
		return country.Country{}, fmt.Errorf("%w: %s", country.ErrNotFound, code)
	}
	return c.records[i].Clone(), nil
}

// Create adds a new record. The code must not exist yet.
func (c *Catalog) Create(ctx context.Context, rec country.Country) error {
	if err := rec.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.index[rec.Code]; ok {
		return fmt.Errorf("create %s: %w", rec.Code, country.ErrDuplicateKey)
	}
	if err := c.backend.Insert(ctx, rec); err != nil {
		return fmt.Errorf("create %s: %w", rec.Code, storageError(err))
	}

	c.index[rec.Code] = len(c.records)
	c.records = append(c.records, rec.Clone())
	return nil
}

// Update replaces the record with the same code. All fields of the existing
// record are overwritten; nothing is merged.
func (c *Catalog) Update(ctx context.Context, rec country.Country) error {
	if err := rec.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	i, ok := c.index[rec.Code]
	if !ok {
		return fmt.Errorf("update %s: %w", rec.Code, country.ErrNotFound)
	}
	if err := c.backend.Update(ctx, rec); err != nil {
		return fmt.Errorf("update %s: %w", rec.Code, storageError(err))
	}

	c.records[i] = rec.Clone()
	return nil
}

// Delete removes the record with this code.
func (c *Catalog) Delete(ctx context.Context, code string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	i, ok := c.index[code]
	if !ok {
		return fmt.Errorf("delete %s: %w", code, country.ErrNotFound)
	}
	if err := c.backend.Delete(ctx, code); err != nil {
		return fmt.Errorf("delete %s: %w", code, storageError(err))
	}

	c.records = append(c.records[:i], c.records[i+1:]...)
	delete(c.index, code)
	for j := i; j < len(c.records); j++ {
		c.index[c.records[j].Code] = j
	}
	return nil
}

// MinBy returns the measured record with the smallest value of f.
func (c *Catalog) MinBy(f country.Field) (country.Country, error) {
	return stats.MinBy(c.List(), f)
}

// MaxBy returns the measured record with the largest value of f.
func (c *Catalog) MaxBy(f country.Field) (country.Country, error) {
	return stats.MaxBy(c.List(), f)
}

// Correlation returns the Pearson coefficient between a and b.
func (c *Catalog) Correlation(a, b country.Field) (float64, error) {
	return stats.Correlation(c.List(), a, b)
}

// Summary returns the full analysis report over one snapshot.
func (c *Catalog) Summary() (stats.Summary, error) {
	return stats.Summarize(c.List())
}

func (c *Catalog) snapshot() []country.Country {
	out := make([]country.Country, len(c.records))
	for i, r := range c.records {
		out[i] = r.Clone()
	}
	return out
}

// storageError passes key conflicts through and marks everything else as a
// storage failure.
func storageError(err error) error {
	if errors.Is(err, country.ErrDuplicateKey) || errors.Is(err, country.ErrNotFound) {
		return err
	}
	return fmt.Errorf("%w: %w", country.ErrStorageUnavailable, err)
}
