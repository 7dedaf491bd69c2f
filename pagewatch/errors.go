package pagewatch

import "errors"

// Error categories. Errors returned by this package wrap one of these and
// the underlying cause, so both errors.Is(err, ErrFetch) and errors.As on
// the cause work.
var (
	// ErrInvalidInput is returned for malformed target URLs or configuration.
	ErrInvalidInput = errors.New("pagewatch: invalid input")
	// ErrFetch is returned when the page or one of its scripts cannot be fetched.
	ErrFetch = errors.New("pagewatch: fetch failed")
	// ErrParse is returned when fetched bytes cannot be decoded.
	ErrParse = errors.New("pagewatch: parse failed")
	// ErrIO is returned for snapshot store and history failures.
	ErrIO = errors.New("pagewatch: storage failed")
	// ErrNotify is returned when a change was recorded but the notification
	// could not be delivered.
	ErrNotify = errors.New("pagewatch: notification failed")
	// ErrNoHistory is returned by history queries when no history database
	// is configured.
	ErrNoHistory = errors.New("pagewatch: history not configured")
	// ErrUnknownTarget is returned when a key or URL names no configured target.
	ErrUnknownTarget = errors.New("pagewatch: unknown target")
)
