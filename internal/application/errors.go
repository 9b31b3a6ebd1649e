package application

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrNotFound is returned when the requested transaction or change does not exist.
	ErrNotFound = errors.New("application: not found")
	// ErrInvalidTransactionState is returned when an operation is not allowed in the transaction's current status.
	ErrInvalidTransactionState = errors.New("application: invalid transaction state")
	// ErrCommitFailed is returned when a batch write or audit append fails during commit.
	ErrCommitFailed = errors.New("application: commit failed")
	// ErrAmbiguousMatch is returned when more than one stored entity matches by name only.
	ErrAmbiguousMatch = errors.New("application: ambiguous match")
	// ErrImportAborted is returned when a row fails and the caller asked to abort on row errors.
	ErrImportAborted = errors.New("application: import aborted")
)

// ValidationError captures field level validation issues that callers can surface to users.
type ValidationError struct {
	FieldErrors map[string]string
}

// Error implements the error interface.
func (v *ValidationError) Error() string {
	if v == nil || len(v.FieldErrors) == 0 {
		return "validation failed"
	}
	fields := make([]string, 0, len(v.FieldErrors))
	for field := range v.FieldErrors {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	parts := make([]string, len(fields))
	for i, field := range fields {
		parts[i] = field + ": " + v.FieldErrors[field]
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// HasErrors reports whether any field level issues were recorded.
func (v *ValidationError) HasErrors() bool {
	return v != nil && len(v.FieldErrors) > 0
}

// add records a field level validation error.
func (v *ValidationError) add(field, message string) {
	if v.FieldErrors == nil {
		v.FieldErrors = make(map[string]string)
	}
	v.FieldErrors[field] = message
}

// RowError attaches an import row position and field to a parse or resolution failure.
type RowError struct {
	Row   int
	Field string
	Raw   string
	Err   error
}

func (e *RowError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("row %d: %v", e.Row, e.Err)
	}
	return fmt.Sprintf("row %d, field %s (%q): %v", e.Row, e.Field, e.Raw, e.Err)
}

func (e *RowError) Unwrap() error { return e.Err }

// AmbiguousMatchError lists the stored entities that matched a name-only lookup.
type AmbiguousMatchError struct {
	Collection   string
	Query        string
	CandidateIDs []string
}

func (e *AmbiguousMatchError) Error() string {
	return fmt.Sprintf("ambiguous %s match for %q: candidates %s",
		e.Collection, e.Query, strings.Join(e.CandidateIDs, ", "))
}

func (e *AmbiguousMatchError) Is(target error) bool { return target == ErrAmbiguousMatch }

// TransactionStateError reports an operation attempted in a status that forbids it.
type TransactionStateError struct {
	TransactionID string
	State         TransactionStatus
	Operation     string
}

func (e *TransactionStateError) Error() string {
	return fmt.Sprintf("transaction %s: cannot %s while %s", e.TransactionID, e.Operation, e.State)
}

func (e *TransactionStateError) Is(target error) bool { return target == ErrInvalidTransactionState }

// CommitFailedError wraps the store error that stopped a commit.
type CommitFailedError struct {
	TransactionID  string
	Batch          int
	AppliedBatches int
	Err            error
}

func (e *CommitFailedError) Error() string {
	return fmt.Sprintf("transaction %s: batch %d failed after %d applied: %v",
		e.TransactionID, e.Batch, e.AppliedBatches, e.Err)
}

func (e *CommitFailedError) Unwrap() error { return e.Err }

func (e *CommitFailedError) Is(target error) bool { return target == ErrCommitFailed }
