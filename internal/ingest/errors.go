package ingest

import (
	"errors"
	"fmt"
)

var (
	// ErrQueueFull indicates the sync queue buffer has no free slot.
	ErrQueueFull = errors.New("ingest: sync queue is full")
	// ErrQueueClosed indicates the sync queue no longer accepts jobs.
	ErrQueueClosed = errors.New("ingest: sync queue is closed")

	errMissingClient     = errors.New("upstream client is required")
	errMissingUserStore  = errors.New("user store is required")
	errMissingRouteStore = errors.New("route store is required")
	errMissingRunner     = errors.New("ingestion runner is required")
	errMissingSubmitter  = errors.New("job submitter is required")
	errMissingLister     = errors.New("user lister is required")
)

// AuthRefreshError reports that the upstream rejected (or never answered) a credential
// renewal. The user has to re-authorize when the refresh token itself was revoked.
type AuthRefreshError struct {
	UserID int64
	Err    error
}

func (e *AuthRefreshError) Error() string {
	return fmt.Sprintf("ingest: refresh credentials for user %d: %v", e.UserID, e.Err)
}

func (e *AuthRefreshError) Unwrap() error {
	return e.Err
}

// UpstreamFetchError reports a failed activity page request. Pages before Page stay committed.
type UpstreamFetchError struct {
	UserID int64
	Page   int
	Err    error
}

func (e *UpstreamFetchError) Error() string {
	return fmt.Sprintf("ingest: fetch page %d for user %d: %v", e.Page, e.UserID, e.Err)
}

func (e *UpstreamFetchError) Unwrap() error {
	return e.Err
}
