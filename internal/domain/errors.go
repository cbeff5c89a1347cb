package domain

import (
	"errors"
	"strings"
)

// Sentinel errors shared by all services. Call sites wrap them with context
// and callers match with errors.Is.
var (
	ErrNotFound            = errors.New("not found")
	ErrValidation          = errors.New("validation failed")
	ErrReplay              = errors.New("nonce already used")
	ErrExpired             = errors.New("payment request expired")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrSigning             = errors.New("signing failed")
	ErrBadSignature        = errors.New("signature verification failed")
	ErrSyncConflict        = errors.New("sync conflict")
	ErrMaxRetriesExceeded  = errors.New("max sync attempts exceeded")
	ErrPersistence         = errors.New("persistence failed")
	ErrAlreadySyncing      = errors.New("sync already in progress")
	ErrTransportTimeout    = errors.New("transport timeout")
	ErrInvalidTransition   = errors.New("invalid state transition")
)

// ValidationError carries the rule violations that blocked an operation.
// It matches ErrValidation and, when set, the more specific Cause.
type ValidationError struct {
	Errors   []string
	Warnings []string
	Cause    error
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return ErrValidation.Error()
	}
	return ErrValidation.Error() + ": " + strings.Join(e.Errors, "; ")
}

// Unwrap exposes ErrValidation and the categorised cause.
func (e *ValidationError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrValidation}
	}
	return []error{ErrValidation, e.Cause}
}
