package repository

import (
	"errors"
	"fmt"
)

// Sentinel kinds for store errors.
var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("persistence conflict")
	ErrClosed   = errors.New("store closed")
)

// Conflicting entities.
const (
	EntitySignature   = "signature"
	EntityOpportunity = "opportunity"
)

// PersistenceConflictError describes a rejected write.
type PersistenceConflictError struct {
	Entity string
	ID     string
	Reason string
}

func (e *PersistenceConflictError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Entity, e.ID, e.Reason)
}

// Unwrap lets errors.Is match ErrConflict.
func (e *PersistenceConflictError) Unwrap() error {
	return ErrConflict
}

func conflict(entity, id, format string, args ...any) error {
	return &PersistenceConflictError{Entity: entity, ID: id, Reason: fmt.Sprintf(format, args...)}
}

func notFound(entity, id string) error {
	return fmt.Errorf("%s %s: %w", entity, id, ErrNotFound)
}
