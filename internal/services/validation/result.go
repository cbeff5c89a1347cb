package validation

import (
	"errors"
	"fmt"

	"offpay/internal/domain"
)

// Result is a domain.ValidationResult that remembers the category of the
// first blocking error.
type Result struct {
	domain.ValidationResult
	cause error
}

func newResult() Result {
	return Result{ValidationResult: domain.ValidationResult{
		Valid:    true,
		Errors:   []string{},
		Warnings: []string{},
	}}
}

func (r *Result) fail(cause error, format string, args ...any) {
	r.Valid = false
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
	if r.cause == nil && cause != nil {
		r.cause = cause
	}
}

func (r *Result) warn(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

func (r *Result) merge(o Result) {
	if !o.Valid {
		r.Valid = false
	}
	r.Errors = append(r.Errors, o.Errors...)
	r.Warnings = append(r.Warnings, o.Warnings...)
	if r.cause == nil {
		r.cause = o.cause
	}
}

// Err returns nil for a valid result and a *domain.ValidationError otherwise.
func (r Result) Err() error {
	if r.Valid {
		return nil
	}
	return &domain.ValidationError{
		Errors:   append([]string(nil), r.Errors...),
		Warnings: append([]string(nil), r.Warnings...),
		Cause:    r.cause,
	}
}

// FailedWith reports whether the result failed with the given category.
func (r Result) FailedWith(target error) bool {
	return r.cause != nil && errors.Is(r.cause, target)
}
