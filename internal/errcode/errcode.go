// Package errcode defines the stable error codes used across the coverage
// pool engine. Every rejection the engine produces carries one of these
// short codes so callers can branch on failures without parsing messages.
package errcode

import "errors"

// Error is a sentinel error with a stable machine-readable code.
// Instances are compared by identity via errors.Is.
type Error struct {
	Code    string
	Message string
}

// New creates a coded sentinel error. Call it once per failure mode at
// package init and compare with errors.Is afterwards.
func New(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

// CodeOf extracts the stable code from err, walking wrapped chains.
// Returns "INTERNAL" when err carries no code.
func CodeOf(err error) string {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code
	}
	return "INTERNAL"
}
