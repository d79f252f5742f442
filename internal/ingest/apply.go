package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/JonMunkholm/analyzer/internal/country"
)

// ContextCheckInterval is how often (in rows) Apply checks for cancellation.
var ContextCheckInterval = 100

// Store is the slice of the catalog that Apply writes through.
type Store interface {
	FindByCode(code string) (country.Country, error)
	Create(ctx context.Context, c country.Country) error
	Update(ctx context.Context, c country.Country) error
}

// Result summarizes one applied batch.
type Result struct {
	BatchID   uuid.UUID  `json:"batch_id"`
	Created   int        `json:"created"`
	Updated   int        `json:"updated"`
	Unchanged int        `json:"unchanged"`
	Failed    []RowError `json:"failed"`
}

// Apply writes every parsed row through s: new codes are created, existing
// codes are overwritten unless the stored record is already identical.
// Rows rejected by the catalog are added to Failed and the batch continues.
//
// Apply stops early, returning the partial Result, when ctx is cancelled or
// the store reports country.ErrStorageUnavailable; rows already applied stay
// applied.
func Apply(ctx context.Context, s Store, batch *Batch) (*Result, error) {
	res := &Result{
		BatchID: uuid.New(),
		Failed:  append([]RowError{}, batch.Failed...),
	}

	for i, row := range batch.Rows {
		if i%ContextCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return res, fmt.Errorf("import cancelled at line %d: %w", row.Line, err)
			}
		}

		created, changed, err := upsert(ctx, s, row.Country)
		switch {
		case errors.Is(err, country.ErrStorageUnavailable):
			return res, fmt.Errorf("import stopped at line %d: %w", row.Line, err)
		case err != nil:
			res.Failed = append(res.Failed, RowError{Line: row.Line, Code: row.Country.Code, Message: err.Error()})
		case created:
			res.Created++
		case changed:
			res.Updated++
		default:
			res.Unchanged++
		}
	}
	return res, nil
}

func upsert(ctx context.Context, s Store, c country.Country) (created, changed bool, err error) {
	existing, err := s.FindByCode(c.Code)
	if errors.Is(err, country.ErrNotFound) {
		return true, true, s.Create(ctx, c)
	}
	if err != nil {
		return false, false, err
	}
	if country.Equal(existing, c) {
		return false, false, nil
	}
	return false, true, s.Update(ctx, c)
}
