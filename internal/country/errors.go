package country

import "errors"

// Error kinds returned by the catalog, the aggregator and the storage
// backends. Callers match them with errors.Is; the wrapped message carries
// the detail (the offending code, field or driver error).
var (
	// ErrNotFound is returned for a lookup, update or delete of an unknown code.
	ErrNotFound = errors.New("country not found")

	// ErrDuplicateKey is returned when creating a code that already exists.
	ErrDuplicateKey = errors.New("country code already exists")

	// ErrStorageUnavailable is returned when the backend is unreachable or a
	// commit failed. The cache never reflects a write that returned it.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrInsufficientData is returned when a statistic has too few measured
	// records to be defined.
	ErrInsufficientData = errors.New("insufficient data")

	// ErrInvalidValue is returned for out-of-contract input.
	ErrInvalidValue = errors.New("invalid value")
)
