// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates a concurrent modification conflict (optimistic locking).
var ErrConflict = errors.New("conflict: workflow was modified by another writer")

// ErrValidation indicates a malformed or inadmissible mutation.
var ErrValidation = errors.New("validation failed")

// ErrCorruptLog indicates an event that cannot be replayed. Rebuild aborts
// immediately; partial replay would leave the projection inconsistent.
var ErrCorruptLog = errors.New("corrupt event log")

// ErrGateFailed indicates a quality gate blocked the requested transition.
var ErrGateFailed = errors.New("quality gate failed")
