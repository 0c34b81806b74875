package common

import (
	"errors"
	"fmt"
)

// Sentinel error kinds. Services wrap these with fmt.Errorf("...: %w", ...)
// so handlers can map them to HTTP statuses with errors.Is.
var (
	ErrNotFound            = errors.New("not found")
	ErrBadRequest          = errors.New("bad request")
	ErrAuthorizationDenied = errors.New("authorization denied")
	ErrConflict            = errors.New("conflict")
)

// NotFoundf wraps ErrNotFound with a formatted message
func NotFoundf(format string, args ...interface{}) error {
	return fmt.Errorf(format+": %w", append(args, ErrNotFound)...)
}

// BadRequestf wraps ErrBadRequest with a formatted message
func BadRequestf(format string, args ...interface{}) error {
	return fmt.Errorf(format+": %w", append(args, ErrBadRequest)...)
}

// Unauthorizedf wraps ErrAuthorizationDenied with a formatted message
func Unauthorizedf(format string, args ...interface{}) error {
	return fmt.Errorf(format+": %w", append(args, ErrAuthorizationDenied)...)
}

// Conflictf wraps ErrConflict with a formatted message
func Conflictf(format string, args ...interface{}) error {
	return fmt.Errorf(format+": %w", append(args, ErrConflict)...)
}
