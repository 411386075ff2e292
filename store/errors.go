package store

import "errors"

var (
	// ErrNotFound is returned when a record or index entry doesn't exist.
	ErrNotFound = errors.New("kvmodel: record not found")

	// ErrMassAssignment is returned when attributes are supplied to a model that
	// accepts none of them.
	ErrMassAssignment = errors.New("kvmodel: mass assignment not allowed")

	// ErrNotIndexed is returned when looking up a field that has no secondary index.
	ErrNotIndexed = errors.New("kvmodel: field is not indexed")

	// ErrDuplicatePrefix is returned when two models share a key prefix.
	ErrDuplicatePrefix = errors.New("kvmodel: duplicate model prefix")

	// ErrUnknownModel is returned when a registry has no model by that name.
	ErrUnknownModel = errors.New("kvmodel: unknown model")

	// ErrInvalidModel is returned for a model definition that cannot produce keys.
	ErrInvalidModel = errors.New("kvmodel: invalid model definition")

	// ErrInvalidScore is returned when a relation member is not numeric.
	ErrInvalidScore = errors.New("kvmodel: relation member is not numeric")

	// ErrNoLocalKey is returned when the owner of a relation has no local key value.
	ErrNoLocalKey = errors.New("kvmodel: relation owner has no local key")
)
