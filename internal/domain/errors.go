package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for domain operations
var (
	// ErrNotFound indicates the requested row does not exist in the local store
	ErrNotFound = errors.New("not found")

	// ErrServerOffline indicates the catalog server is unreachable
	ErrServerOffline = errors.New("catalog server is unreachable")

	// ErrAuthFailed indicates the catalog server rejected our credentials
	ErrAuthFailed = errors.New("authentication token is invalid")

	// ErrNotModified indicates a conditional fetch matched the cached ETag
	ErrNotModified = errors.New("not modified")

	// ErrNoCachedData indicates neither the remote nor any local copy could serve a read
	ErrNoCachedData = errors.New("no cached data available")

	// ErrAlreadyDownloading indicates a transfer for the track is in flight
	ErrAlreadyDownloading = errors.New("track is already downloading")

	// ErrAlreadyDownloaded indicates the track has a completed, present download
	ErrAlreadyDownloaded = errors.New("track is already downloaded")

	// ErrNotDownloading indicates there is no active transfer to pause
	ErrNotDownloading = errors.New("track is not downloading")

	// ErrInvalidTransition indicates a download state change the state machine forbids
	ErrInvalidTransition = errors.New("invalid download state transition")
)

// PolicyError is returned when the network policy refuses an operation.
// It is expected behaviour, not a failure.
type PolicyError struct {
	Op     string // "stream" or "download"
	Reason Reason
}

func (e *PolicyError) Error() string {
	return fmt.Sprintf("%s not allowed: %s", e.Op, e.Reason)
}

// Message returns the human-readable explanation for display.
func (e *PolicyError) Message() string {
	return e.Reason.Message()
}

// IsPolicyRejection reports whether err is a network policy rejection.
func IsPolicyRejection(err error) bool {
	var pe *PolicyError
	return errors.As(err, &pe)
}
