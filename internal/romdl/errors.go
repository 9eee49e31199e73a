package romdl

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyExists is returned by Enqueue when the file is already
	// present in the destination. The queue is not touched.
	ErrAlreadyExists = errors.New("romdl: file already exists at destination")

	// ErrFolderNotConfigured is returned by Enqueue when the folder key has
	// no valid grant. Callers should prompt for a folder and enqueue again.
	ErrFolderNotConfigured = errors.New("romdl: no folder configured")

	// ErrNotCancellable is returned by Cancel once the transfer has entered
	// post-processing.
	ErrNotCancellable = errors.New("romdl: download is past the cancellable window")

	// ErrNotFound is returned for unknown download ids.
	ErrNotFound = errors.New("romdl: download not found")

	// ErrInvalidTransition is returned when an operation is not allowed from
	// the item's current status.
	ErrInvalidTransition = errors.New("romdl: invalid status transition")

	// ErrAlreadyQueued is returned by Retry when another request for the same
	// file and destination is already in flight.
	ErrAlreadyQueued = errors.New("romdl: an equivalent download is already queued")

	// ErrClosed is returned by operations on a closed Orchestrator.
	ErrClosed = errors.New("romdl: orchestrator closed")
)

// TransferError reports a transfer that completed with an unexpected HTTP
// status code.
type TransferError struct {
	StatusCode int
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("download failed with status %d", e.StatusCode)
}

// transitionError wraps ErrInvalidTransition with the offending states.
func transitionError(id string, from, to Status) error {
	return fmt.Errorf("%w: %s cannot go from %s to %s", ErrInvalidTransition, id, from, to)
}
