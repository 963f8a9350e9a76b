// Package clock projects wall-clock time into the clinic's civil timezone.
// Every date and time-of-day comparison made by the booking engine goes
// through a Clock so that callers in other zones see the clinic's calendar.
package clock

import (
	"fmt"
	"sync"
	"time"
	_ "time/tzdata" // embed the zone database for minimal containers

	"cloud.google.com/go/civil"
)

// DefaultTimezone is the clinic's civil timezone.
const DefaultTimezone = "Asia/Kolkata"

// Clock returns the current instant in the clinic's civil timezone.
type Clock interface {
	Now() time.Time
	ToCivil(t time.Time) time.Time
	Today() civil.Date
	Location() *time.Location
}

// Civil is a Clock backed by a time source and a fixed location.
type Civil struct {
	loc *time.Location
	now func() time.Time
}

// New returns a Clock reading the system time in the named timezone.
func New(timezone string) (*Civil, error) {
	if timezone == "" {
		timezone = DefaultTimezone
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", timezone, err)
	}
	return &Civil{loc: loc, now: time.Now}, nil
}

// MustNew is like New but panics on an unknown timezone.
func MustNew(timezone string) *Civil {
	c, err := New(timezone)
	if err != nil {
		panic(err)
	}
	return c
}

func (c *Civil) Now() time.Time {
	return c.now().In(c.loc)
}

func (c *Civil) ToCivil(t time.Time) time.Time {
	return t.In(c.loc)
}

// Today returns the calendar date in the civil timezone.
func (c *Civil) Today() civil.Date {
	return civil.DateOf(c.Now())
}

func (c *Civil) Location() *time.Location {
	return c.loc
}

// Fixed is a Clock frozen at a settable instant. It is safe for concurrent use.
type Fixed struct {
	mu  sync.RWMutex
	at  time.Time
	loc *time.Location
}

// NewFixed returns a Clock frozen at the given instant, projected into loc.
func NewFixed(at time.Time, loc *time.Location) *Fixed {
	return &Fixed{at: at, loc: loc}
}

func (f *Fixed) Now() time.Time {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.at.In(f.loc)
}

// Set moves the frozen instant.
func (f *Fixed) Set(at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.at = at
}

func (f *Fixed) ToCivil(t time.Time) time.Time {
	return t.In(f.loc)
}

func (f *Fixed) Today() civil.Date {
	return civil.DateOf(f.Now())
}

func (f *Fixed) Location() *time.Location {
	return f.loc
}
