package crawler

import (
	"context"
	"time"
)

// Fetcher loads a URL and returns the document body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (Page, error)
}

// Extractor applies CSS selectors to a page body. Implementations must be
// pure: no network access, same inputs yield same outputs.
type Extractor interface {
	Extract(pageURL string, body []byte, selectors []string) (Extraction, error)
}

// Scorer rates how relevant a text fragment is, in [0, 1].
type Scorer interface {
	Score(ctx context.Context, text string) (float64, error)
}

// RetryPolicy decides whether and when a failed operation is re-attempted.
// Implementations must be stateless per call so a single policy can be shared
// across concurrent page loads.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}

// RobotsPolicy gates URLs against robots.txt directives.
type RobotsPolicy interface {
	Allowed(ctx context.Context, rawURL string) bool
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
