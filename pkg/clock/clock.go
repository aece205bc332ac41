// Package clock abstracts the time source so token expiry and budget
// rollover can be driven deterministically in tests.
package clock

import "time"

// Clock is the time source used by the token store, the budget guard
// and the expiry sweeper.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// System is the wall clock. All times are UTC.
type System struct{}

// Now returns the current UTC time.
func (System) Now() time.Time {
	return time.Now().UTC()
}

// After mirrors time.After.
func (System) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}
