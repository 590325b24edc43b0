// Package system provides the wall clock used for snapshot timestamps.
package system

import "time"

// Clock implements crawler.Clock. Times are UTC, truncated to whole seconds
// so snapshot files stay readable and diff cleanly.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time.
func (Clock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}
