// Package system supplies the wall clock behind crawl timestamps and schedules.
package system

import "time"

// Clock implements crawler.Clock in UTC. BI-ID dates, next-crawl times and
// archive paths all derive from it, so they never follow the host time zone.
type Clock struct{}

// New creates a Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time in UTC.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
