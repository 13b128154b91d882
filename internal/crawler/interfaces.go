// Package crawler runs the two crawl stages: the Collector pages through the
// portal listing on one session, the DetailExtractor visits each publication
// on a bounded pool of sessions, and the Pipeline merges and persists the
// result.
package crawler

import (
	"context"
	"time"

	"github.com/JakeFAU/pubsearch/internal/render"
)

// Fetcher renders a URL in a session with retries and politeness.
type Fetcher interface {
	Fetch(ctx context.Context, sess render.Session, rawURL, label string) (render.Page, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// Hasher computes digests of persisted artifacts.
type Hasher interface {
	Hash(data []byte) (string, error)
}
