// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates a concurrent modification conflict, e.g. a duplicate
// ledger reference.
var ErrConflict = errors.New("conflict: resource was modified by another request")

// ErrValidation indicates a request failed input validation.
// Wrap it with details: fmt.Errorf("%w: user_id is required", domain.ErrValidation).
var ErrValidation = errors.New("validation failed")
