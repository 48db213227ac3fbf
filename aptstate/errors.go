package aptstate

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrLocked is returned when apt could not take the dpkg or lists lock.
	ErrLocked = errors.New("failed to lock apt for exclusive operation")

	// ErrPackageNotFound is returned when the cache has no package by that name.
	ErrPackageNotFound = errors.New("package not found")
)

// ValidationError reports a bad parameter combination or a package that
// must exist but does not. Nothing has been executed when it is returned.
type ValidationError struct {
	Msg string
	Err error
}

func (e *ValidationError) Error() string {
	return e.Msg
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Validationf builds a ValidationError from a format string.
func Validationf(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// ExecutionError reports an external command that exited non-zero.
type ExecutionError struct {
	Msg      string
	Command  string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ExecutionError) Error() string {
	return e.Msg
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

var lockMarkers = []string{
	"Could not get lock",
	"Unable to lock",
	"Unable to acquire the dpkg frontend lock",
}

// IsLockMessage reports whether apt's error stream describes a held lock.
func IsLockMessage(stderr string) bool {
	for _, m := range lockMarkers {
		if strings.Contains(stderr, m) {
			return true
		}
	}
	return false
}
