// Package uuid generates crawl run IDs and API request IDs.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator hands out UUIDs. Run IDs are version 7, so listing the runs
// published to a topic by ID also lists them by start time.
type Generator struct{}

// New returns a Generator.
func New() *Generator {
	return &Generator{}
}

// NewID implements crawler.IDGenerator.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate run id: %w", err)
	}
	return id.String(), nil
}

// NewRequestID returns a random version 4 UUID for request correlation.
func (Generator) NewRequestID() string {
	return uuid.NewString()
}
