package interfaces

import "errors"

var (
	// ErrNotFound is returned when a lookup by key matches no row.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when an insert violates a uniqueness constraint.
	ErrDuplicate = errors.New("record already exists")
	// ErrStaleState is returned when a write's precondition on another row no
	// longer holds.
	ErrStaleState = errors.New("record changed state")
)
