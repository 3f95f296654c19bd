// Package render abstracts how pages are turned into renderable HTML.
//
// The extractor depends only on the Fetcher interface; the concrete
// Client here speaks plain HTTP with a cookie jar, but a headless
// renderer or a render proxy can be dropped in without touching
// extraction logic.
package render

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound means the target returned a definitive "no such page".
	ErrNotFound = errors.New("page not found")
	// ErrTimeout means the fetch exceeded its deadline after retries.
	ErrTimeout = errors.New("fetch timed out")
)

// NetworkError is a transient transport failure, surfaced only after the
// bounded retry budget is spent.
type NetworkError struct {
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("fetching %s: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Page is a fetched, rendered document.
type Page struct {
	URL        string
	HTML       string
	StatusCode int
	FetchedAt  time.Time
}

// Fetcher returns a page's rendered content for a URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*Page, error)
}
