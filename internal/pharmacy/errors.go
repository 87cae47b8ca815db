package pharmacy

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrMalformedField indicates a field that could not be parsed into its type.
	ErrMalformedField = errors.New("pharmacy: malformed field")
	// ErrDanglingReference indicates a foreign reference that does not resolve.
	ErrDanglingReference = errors.New("pharmacy: dangling reference")
	// ErrRuleViolation indicates a business rule failure on a well-formed row.
	ErrRuleViolation = errors.New("pharmacy: rule violation")
	// ErrInsufficientStock indicates a sale that would drive stock negative.
	ErrInsufficientStock = fmt.Errorf("%w: insufficient stock", ErrRuleViolation)
	// ErrRunConflict indicates a pipeline run is already in progress.
	ErrRunConflict = errors.New("pharmacy: pipeline run already in progress")
	// ErrStoreUnavailable indicates the record store could not serve the request.
	ErrStoreUnavailable = errors.New("pharmacy: record store unavailable")
	// ErrNotFound indicates a missing record.
	ErrNotFound = errors.New("pharmacy: not found")
	// ErrInvalidArgument indicates a caller supplied parameter outside its domain.
	ErrInvalidArgument = errors.New("pharmacy: invalid argument")
)

// RejectReason classifies why a row was rejected during ingestion.
type RejectReason string

const (
	ReasonMalformedField    RejectReason = "MalformedField"
	ReasonDanglingReference RejectReason = "DanglingReference"
	ReasonRuleViolation     RejectReason = "RuleViolation"
	ReasonInsufficientStock RejectReason = "InsufficientStock"
)

// RowError describes a rejected row. It matches the corresponding sentinel
// through errors.Is.
type RowError struct {
	Reason RejectReason
	Field  string
	Detail string
}

// Error implements error.
func (e *RowError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", e.Reason, e.Detail)
	}
	return fmt.Sprintf("%s: %s: %s", e.Reason, e.Field, e.Detail)
}

// Is maps the reason onto the sentinel errors.
func (e *RowError) Is(target error) bool {
	switch e.Reason {
	case ReasonMalformedField:
		return target == ErrMalformedField
	case ReasonDanglingReference:
		return target == ErrDanglingReference
	case ReasonRuleViolation:
		return target == ErrRuleViolation
	case ReasonInsufficientStock:
		return target == ErrInsufficientStock || target == ErrRuleViolation
	}
	return false
}

// Malformed builds a MalformedField row error.
func Malformed(field, format string, args ...any) *RowError {
	return &RowError{Reason: ReasonMalformedField, Field: field, Detail: fmt.Sprintf(format, args...)}
}

// Dangling builds a DanglingReference row error.
func Dangling(field, value string) *RowError {
	return &RowError{Reason: ReasonDanglingReference, Field: field, Detail: fmt.Sprintf("%q does not exist", value)}
}

// Violation builds a RuleViolation row error.
func Violation(field, format string, args ...any) *RowError {
	return &RowError{Reason: ReasonRuleViolation, Field: field, Detail: fmt.Sprintf(format, args...)}
}

// Insufficient builds an InsufficientStock row error.
func Insufficient(drugCode string, onHand, requested int) *RowError {
	return &RowError{
		Reason: ReasonInsufficientStock,
		Field:  "quantity",
		Detail: fmt.Sprintf("drug %s has %d on hand, %d requested", drugCode, onHand, requested),
	}
}

// IsTaxonomy reports whether err already belongs to the published error set.
func IsTaxonomy(err error) bool {
	for _, target := range []error{
		ErrMalformedField, ErrDanglingReference, ErrRuleViolation, ErrRunConflict,
		ErrStoreUnavailable, ErrNotFound, ErrInvalidArgument,
		context.Canceled, context.DeadlineExceeded,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// MapError converts errors leaving the core into the published taxonomy.
// Store failures and context errors lose their wrapping detail and anything
// unrecognised is reported as ErrStoreUnavailable; callers log the original
// error before mapping it.
func MapError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrStoreUnavailable):
		return ErrStoreUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return context.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		return context.Canceled
	case IsTaxonomy(err):
		return err
	}
	return ErrStoreUnavailable
}
