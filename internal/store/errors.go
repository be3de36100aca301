package store

import "errors"

var (
	// ErrNotFound is returned when a referenced identifier is absent.
	ErrNotFound = errors.New("not found")

	// ErrDuplicate is returned by strict inserts that would violate the
	// (name, language) uniqueness invariant. Non-strict inserts surface
	// the same situation as a merge result instead.
	ErrDuplicate = errors.New("duplicate name")

	// ErrConflict is returned when a compare-and-set update lost a race.
	// Callers retry up to three times.
	ErrConflict = errors.New("concurrent modification")

	// ErrConstraintViolated is returned when a rewrite would unseal the
	// covenant or break a structural invariant.
	ErrConstraintViolated = errors.New("constraint violated")
)
