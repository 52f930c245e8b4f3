package crawler

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrTransient marks fetch failures worth retrying (timeouts, 5xx, 429)
	ErrTransient = errors.New("transient fetch failure")
	// ErrPermanent marks fetch failures that are never retried (4xx, DNS, TLS, bad URL)
	ErrPermanent = errors.New("permanent fetch failure")
	// ErrNotHTML is returned when a response is not an HTML document
	ErrNotHTML = errors.New("response is not HTML")
	// ErrSeedRejected is returned when the seed URL cannot enter the frontier
	ErrSeedRejected = errors.New("seed URL rejected by frontier")
	// ErrDisallowed marks pages skipped by the permission check
	ErrDisallowed = errors.New("disallowed by robots.txt")
	// ErrRedirectVisited is returned when a redirect leads to a URL the crawl has already seen
	ErrRedirectVisited = errors.New("redirect target already visited")

	errTooManyRedirects = errors.New("too many redirects")
	errBodyTooLarge     = errors.New("response body exceeds limit")
)

// FetchError describes a failed fetch after all attempts
type FetchError struct {
	URL        string
	Transient  bool
	StatusCode int // 0 when no response was received
	Attempts   int
	Err        error
}

func (e *FetchError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s fetch failure for %s after %d attempt(s): status %d", kind, e.URL, e.Attempts, e.StatusCode)
	}
	return fmt.Sprintf("%s fetch failure for %s after %d attempt(s): %v", kind, e.URL, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Is lets errors.Is match ErrTransient and ErrPermanent
func (e *FetchError) Is(target error) bool {
	switch target {
	case ErrTransient:
		return e.Transient
	case ErrPermanent:
		return !e.Transient
	}
	return false
}

// ExtractionError describes markup that could not be turned into content
type ExtractionError struct {
	URL string
	Err error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction failed for %s: %v", e.URL, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// PageFailure is a non-fatal per-page error. The page contributes no record
// and none of its links.
type PageFailure struct {
	URL        string
	Depth      int
	Stage      FailureStage
	Err        error
	OccurredAt time.Time
}

func (f *PageFailure) Error() string {
	return fmt.Sprintf("%s: %s: %v", f.Stage, f.URL, f.Err)
}

func (f *PageFailure) Unwrap() error { return f.Err }

// stageOf maps a processing error to the stage it came from
func stageOf(err error) FailureStage {
	var extractErr *ExtractionError
	if errors.As(err, &extractErr) {
		return StageExtract
	}
	return StageFetch
}
