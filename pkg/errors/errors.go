package errors

import (
	goerrors "errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// New returns an error that formats as the given text.
func New(msg string) error {
	return goerrors.New(msg)
}

// WithContext annotates `err` with a short description of what was being
// attempted. The result formats as "context: err".
// A nil `err` stays nil.
func WithContext(err error, context string) error {
	return pkgerrors.WithMessage(err, context)
}

// RootCause returns the innermost error that was wrapped by WithContext.
func RootCause(err error) error {
	return pkgerrors.Cause(err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return goerrors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return goerrors.As(err, target)
}

// FriendlyError is an error whose message is meant to be shown to the user
// as-is, without the context chain.
type FriendlyError struct {
	template string
	args     []interface{}
}

// NewFriendlyError creates a FriendlyError from a printf-style template.
func NewFriendlyError(template string, args ...interface{}) error {
	return FriendlyError{template, args}
}

func (err FriendlyError) Error() string {
	return err.FriendlyMessage()
}

// FriendlyMessage returns the message that should be printed to the user.
func (err FriendlyError) FriendlyMessage() string {
	return fmt.Sprintf(err.template, err.args...)
}

type friendlyMessager interface {
	FriendlyMessage() string
}

// GetPrintableMessage returns the friendliest message available for `err`.
// If the root cause of the error has a friendly message, only that message is
// returned. Otherwise, the full error chain is returned.
func GetPrintableMessage(err error) string {
	var friendly friendlyMessager
	if goerrors.As(err, &friendly) {
		return friendly.FriendlyMessage()
	}
	return err.Error()
}

type permanentError struct {
	error
}

func (err permanentError) Unwrap() error {
	return err.error
}

func (err permanentError) Permanent() bool {
	return true
}

// Permanent marks `err` as an error that can't be fixed by retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err}
}

// IsPermanent returns whether retrying the operation that failed with `err`
// is pointless.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}

	if goerrors.Is(err, ErrCircuitOpen) || goerrors.Is(err, ErrLinkUnavailable) ||
		goerrors.Is(err, ErrPoolClosed) {
		return true
	}

	var p interface{ Permanent() bool }
	return goerrors.As(err, &p) && p.Permanent()
}
