// Package system provides the wall clock used to stamp run reports.
package system

import "time"

// Precision is the resolution of stamped times. PostgreSQL TIMESTAMPTZ keeps
// microseconds, so reports read back from history equal the ones written.
const Precision = time.Microsecond

// Clock implements lurk.Clock with UTC wall time at Precision.
type Clock struct {
	now func() time.Time
}

// New creates a Clock reading the system time.
func New() *Clock {
	return &Clock{now: time.Now}
}

// Now returns the current UTC time truncated to Precision. Truncation drops
// the monotonic reading, so durations between stamps follow the wall clock.
func (c *Clock) Now() time.Time {
	now := time.Now
	if c != nil && c.now != nil {
		now = c.now
	}
	return now().UTC().Truncate(Precision)
}
