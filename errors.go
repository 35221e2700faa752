package fieldsync

import (
	"errors"
	"fmt"
)

// Common errors returned by the fieldsync client.
var (
	// ErrNotFound is returned when a record or remote document does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrStoreClosed is returned when operating on a store its owner has closed.
	ErrStoreClosed = errors.New("store is closed")

	// ErrStorageUnavailable is returned when the local database cannot be
	// opened or reopened.
	ErrStorageUnavailable = errors.New("local storage unavailable")

	// ErrRemoteUnavailable is returned when the remote authority cannot be
	// reached or fails with a server error.
	ErrRemoteUnavailable = errors.New("remote authority unavailable")

	// ErrRemoteRejected is returned when the remote authority refuses a request.
	ErrRemoteRejected = errors.New("remote authority rejected request")

	// ErrFeed is returned when the remote change feed fails.
	ErrFeed = errors.New("change feed failed")

	// ErrOffline is returned when a network operation is attempted without
	// a remote authority or while disconnected.
	ErrOffline = errors.New("operation unavailable in offline mode")

	// ErrIdentityUnavailable is returned when no client identity has been
	// issued yet.
	ErrIdentityUnavailable = errors.New("client identity unavailable")

	// ErrInvalidOp is returned for an outbox entry with an unknown operation.
	ErrInvalidOp = errors.New("invalid outbox operation")
)

// ValidationError is returned when configuration validation fails.
// Extractable via errors.As().
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// StorageError is returned when the local database handle could not be
// (re)opened for an operation. Matches ErrStorageUnavailable.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("store: %s: storage unavailable: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Is reports whether target is ErrStorageUnavailable.
func (e *StorageError) Is(target error) bool { return target == ErrStorageUnavailable }

// RemoteError is returned when a call to the remote authority fails.
// A zero StatusCode means the request never got a response.
// Extractable via errors.As(). Supports Unwrap().
type RemoteError struct {
	Operation  string
	StatusCode int
	Err        error
}

func (e *RemoteError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("remote: %s failed: %v", e.Operation, e.Err)
	}
	return fmt.Sprintf("remote: %s failed (status %d): %v", e.Operation, e.StatusCode, e.Err)
}

func (e *RemoteError) Unwrap() error { return e.Err }

// Is classifies the error by status code: no response or 5xx matches
// ErrRemoteUnavailable, 404 matches ErrNotFound, other 4xx match
// ErrRemoteRejected.
func (e *RemoteError) Is(target error) bool {
	switch target {
	case ErrRemoteUnavailable:
		return e.StatusCode == 0 || e.StatusCode >= 500
	case ErrRemoteRejected:
		return e.StatusCode >= 400 && e.StatusCode < 500
	case ErrNotFound:
		return e.StatusCode == 404
	}
	return false
}

// FeedError is reported to the listener when a change subscription fails.
type FeedError struct {
	Collection string
	Err        error
}

func (e *FeedError) Error() string {
	return fmt.Sprintf("feed: %s: %v", e.Collection, e.Err)
}

func (e *FeedError) Unwrap() error { return e.Err }

// Is reports whether target is ErrFeed.
func (e *FeedError) Is(target error) bool { return target == ErrFeed }
