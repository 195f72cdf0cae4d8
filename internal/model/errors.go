package model

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a referenced RSVP or concert does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition is returned for any status move outside the allowed set.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrCapacityExceeded is returned when an approval would overflow the concert.
	ErrCapacityExceeded = errors.New("capacity exceeded")
	// ErrValidation is returned for malformed input.
	ErrValidation = errors.New("validation failed")
	// ErrBusy is returned when the concert could not be locked in time. Callers may retry.
	ErrBusy = errors.New("concert is busy")
	// ErrAlreadyRequested is returned when a fan asks twice for the same concert.
	ErrAlreadyRequested = errors.New("fan already requested seats for this concert")
)

// NotFoundError names the missing record.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// TransitionError carries the rejected move.
type TransitionError struct {
	From RSVPStatus
	To   RSVPStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot move rsvp from %s to %s", e.From, e.To)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// CapacityError carries the numbers a host needs to choose another action.
type CapacityError struct {
	Requested int
	Available int
}

// Shortfall is how many seats are missing for the request to fit.
func (e *CapacityError) Shortfall() int {
	return e.Requested - e.Available
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("capacity exceeded: %d guests requested, %d spaces available", e.Requested, e.Available)
}

func (e *CapacityError) Is(target error) bool {
	return target == ErrCapacityExceeded
}

// ValidationError names the offending field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}
