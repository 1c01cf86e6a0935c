// Package system provides the wall clock used to stamp runs.
package system

import "time"

// Clock reports the current time in a fixed location.
type Clock struct {
	loc *time.Location
}

// New creates a Clock. A nil location means time.Local, which is what run
// directory names are expected to follow.
func New(loc *time.Location) *Clock {
	if loc == nil {
		loc = time.Local
	}
	return &Clock{loc: loc}
}

// Now returns the current time in the clock's location.
func (c *Clock) Now() time.Time {
	return time.Now().In(c.loc)
}
