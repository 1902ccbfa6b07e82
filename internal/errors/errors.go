package errors

import (
	"errors"
	"fmt"
)

var (
	ErrAlreadyRunning = errors.New("a download is already running")
	ErrNoActiveJob    = errors.New("no active download")
	ErrMediaNotFound  = errors.New("media not found")
)

// FetchErrorKind classifies failures of a single episode fetch.
type FetchErrorKind string

const (
	KindNetwork           FetchErrorKind = "network"
	KindSourceUnavailable FetchErrorKind = "source_unavailable"
	KindTranscode         FetchErrorKind = "transcode"
	KindCancelled         FetchErrorKind = "cancelled"
)

// FetchError wraps an underlying fetch failure with its classification.
// Temporary marks network errors that are worth retrying (timeouts,
// connection resets); permanent network failures abort the whole job.
type FetchError struct {
	Kind      FetchErrorKind
	Temporary bool
	Err       error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch failed (%s): %v", e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Recoverable reports whether the remaining episodes of a job should still
// be attempted after this failure. Permanent network errors poison the
// job; hoster and transcode failures are scoped to one episode.
func (e *FetchError) Recoverable() bool {
	switch e.Kind {
	case KindNetwork:
		return e.Temporary
	case KindSourceUnavailable, KindTranscode:
		return true
	}
	return false
}

// NewFetchError builds a classified fetch error.
func NewFetchError(kind FetchErrorKind, temporary bool, err error) *FetchError {
	return &FetchError{Kind: kind, Temporary: temporary, Err: err}
}

// AsFetchError extracts a FetchError from an error chain. Unclassified
// errors are treated as permanent network failures.
func AsFetchError(err error) *FetchError {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe
	}
	return &FetchError{Kind: KindNetwork, Temporary: false, Err: err}
}
