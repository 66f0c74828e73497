package domain

import "errors"

var (
	// ErrTodoNotFound is returned when no document exists for an id.
	ErrTodoNotFound = errors.New("todo not found")
	// ErrPasswordMismatch is returned when the supplied password does not
	// match the stored one.
	ErrPasswordMismatch = errors.New("password mismatch")
	// ErrOrderConflict indicates another todo already holds the order value
	// being inserted. Callers recompute the order and retry.
	ErrOrderConflict = errors.New("order conflict")
	// ErrConcurrencyConflict indicates that the underlying storage rejected a
	// write because a newer version of the entity is already persisted.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
)
