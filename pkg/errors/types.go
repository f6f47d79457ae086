package errors

import (
	"fmt"

	"github.com/dustin/go-humanize"
)

var (
	// ErrCircuitOpen is returned without attempting the operation while the
	// circuit breaker is open.
	ErrCircuitOpen = New("circuit open")

	// ErrLinkUnavailable is the outcome of tasks that were abandoned because
	// the link to the source or target stopped responding.
	ErrLinkUnavailable = New("link unavailable")

	// ErrPoolClosed is the outcome of tasks that were still queued when the
	// worker pool shut down.
	ErrPoolClosed = New("worker pool closed")
)

// MissingFieldError represents a missing required field.
type MissingFieldError struct {
	Field string
}

func (err MissingFieldError) Error() string {
	return fmt.Sprintf("missing required field: %s", err.Field)
}

// FileNotFound represents when we were unable to access a file
// because the path didn't exist.
type FileNotFound struct {
	Path string
}

func (err FileNotFound) Error() string {
	return fmt.Sprintf("%q does not exist", err.Path)
}

// ConfigError represents an invalid run configuration. It aborts the run
// before any file is scanned.
type ConfigError struct {
	Reason string
}

func (err ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration: %s", err.Reason)
}

// InsufficientSpaceError is returned when the destination volume can't hold
// the file that's about to be written.
type InsufficientSpaceError struct {
	Path      string
	Required  uint64
	Available uint64
}

func (err InsufficientSpaceError) Error() string {
	return fmt.Sprintf("not enough space to write %q: need %s, %s available",
		err.Path, humanize.IBytes(err.Required), humanize.IBytes(err.Available))
}

// Permanent implements the retry classification. Retrying can't free up disk
// space.
func (err InsufficientSpaceError) Permanent() bool {
	return true
}

// IncompleteTransferError is returned when the destination doesn't have the
// same size as the source after a copy finished.
type IncompleteTransferError struct {
	Path     string
	Expected int64
	Actual   int64
}

func (err IncompleteTransferError) Error() string {
	return fmt.Sprintf("incomplete transfer of %q: expected %d bytes, got %d",
		err.Path, err.Expected, err.Actual)
}

// CrashError is the outcome of a task whose worker panicked.
type CrashError struct {
	Unit  int
	Value interface{}
}

func (err CrashError) Error() string {
	return fmt.Sprintf("worker %d crashed: %v", err.Unit, err.Value)
}
