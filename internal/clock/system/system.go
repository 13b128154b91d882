// Package system provides the wall clock used by the query cache and the
// crawl pipeline.
package system

import "time"

// Clock reads the wall clock in UTC. Cache expiry and run durations only
// ever compare two readings, so the zone never leaks into output.
type Clock struct{}

// New returns the wall clock.
func New() *Clock {
	return &Clock{}
}

// Now implements crawler.Clock and querycache.Clock.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
