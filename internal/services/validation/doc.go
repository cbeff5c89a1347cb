// Package validation is the single source of payment business rules.
//
// The Service is stateless apart from its Config: amount bounds, clock skew
// and age tolerance, and whether signatures and trusted peers are required.
// Every check returns a Result listing blocking errors and advisory warnings;
// Result.Err converts a failed result into a *domain.ValidationError that
// matches the categorised sentinel (ErrReplay, ErrExpired,
// ErrInsufficientBalance) when one applies.
package validation
