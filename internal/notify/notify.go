// Package notify announces finished crawls to downstream consumers.
package notify

import (
	"context"
	"time"
)

// Publisher sends a payload to a topic and returns the broker message id.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// CrawlCompleted is published once per successful crawl run.
type CrawlCompleted struct {
	RunID            string    `json:"run_id"`
	FinishedAt       time.Time `json:"finished_at"`
	TotalItems       int       `json:"total_items"`
	SuccessRate      float64   `json:"success_rate"`
	ListingSeconds   float64   `json:"listing_seconds"`
	DetailSeconds    float64   `json:"detail_seconds"`
	TotalSeconds     float64   `json:"total_seconds"`
	CorpusURI        string    `json:"corpus_uri"`
	CorpusSHA256     string    `json:"corpus_sha256,omitempty"`
	IndexURI         string    `json:"index_uri,omitempty"`
	IndexRebuilt     bool      `json:"index_rebuilt"`
	ItemsPerMinute   float64   `json:"items_per_minute"`
	AvgSecondsPerDoc float64   `json:"avg_seconds_per_item"`
}

// Nop discards every payload.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, string, any) (string, error) {
	return "", nil
}
