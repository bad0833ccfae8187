// Package system provides the wall clock used outside tests.
package system

import "time"

// Clock implements crawler.Clock. All times are UTC.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time in UTC.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

// Today returns midnight UTC of the current day.
func (c Clock) Today() time.Time {
	return StartOfDay(c.Now())
}

// StartOfDay truncates t to midnight UTC of its UTC day.
func StartOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
