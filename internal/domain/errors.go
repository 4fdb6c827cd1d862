package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for simple conditions without extra context.
var (
	ErrPrincipalNotFound = errors.New("principal not found")
	ErrTicketNotFound    = errors.New("ticket not found")
	ErrResponseNotFound  = errors.New("response not found")
	ErrInvalidCredential = errors.New("invalid credential")

	// ErrEnterpriseNotConfigured means routing could not resolve an
	// enterprise admin for a sub-user. Surfaced verbatim to the caller;
	// never retried.
	ErrEnterpriseNotConfigured = errors.New("enterprise information not found, contact your administrator")

	// ErrAccessRevoked means a link or token resolved to an inactive grant.
	ErrAccessRevoked = errors.New("access to this product has been revoked")
)

// ForbiddenError is returned when a permission or ownership check fails.
// It is surfaced to the caller and never logged as a system error.
type ForbiddenError struct {
	Reason string
}

func (e *ForbiddenError) Error() string {
	if e.Reason == "" {
		return "permission denied"
	}
	return e.Reason
}

// NotGrantedError is returned when an operation requires an active grant
// that does not exist.
type NotGrantedError struct {
	PrincipalID string
	ProductID   string
}

func (e *NotGrantedError) Error() string {
	return fmt.Sprintf("no active grant for product %q", e.ProductID)
}

// TransitionError is returned when a status transition is not allowed.
type TransitionError struct {
	Event   Event
	Current TicketStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("event %q is not valid from status %q", e.Event, e.Current)
}

// ValidationError is returned for malformed input, rejected before any
// storage mutation. Unrecognized status values are validation errors too.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ConflictError is returned when an optimistic-concurrency mutation lost
// the race. The caller should retry the operation.
type ConflictError struct {
	Entity string
	ID     string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %q was modified concurrently, retry", e.Entity, e.ID)
}
