package zoned

import (
	"fmt"
	"time"
)

// Clock is the source of "now".
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// FixedClock always returns the same instant.
type FixedClock time.Time

func (c FixedClock) Now() time.Time { return time.Time(c) }

// Pair is the current moment read two ways. Regular is the instant in the
// configured zone. UTCOffset is the configured zone's wall clock re-read as
// if it were UTC, which lines up with all-day values anchored at UTC
// midnight and with floating times parsed as UTC.
type Pair struct {
	Regular   Time
	UTCOffset Time
}

// For picks the clock an event should be compared against.
func (p Pair) For(useOffset bool) Time {
	if useOffset {
		return p.UTCOffset
	}
	return p.Regular
}

// Now resolves clock into a Pair for the given IANA zone name.
func Now(clock Clock, timezone string) (Pair, error) {
	if clock == nil {
		clock = SystemClock{}
	}
	loc, err := LoadLocation(timezone)
	if err != nil {
		return Pair{}, err
	}
	return PairAt(clock.Now(), loc), nil
}

// PairAt builds a Pair for instant t viewed from loc.
func PairAt(t time.Time, loc *time.Location) Pair {
	if loc == nil {
		loc = time.UTC
	}
	l := t.In(loc)
	return Pair{
		Regular:   New(l),
		UTCOffset: New(time.Date(l.Year(), l.Month(), l.Day(), l.Hour(), l.Minute(), l.Second(), l.Nanosecond(), time.UTC)),
	}
}

// LoadLocation loads an IANA zone; an empty name means UTC.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", name, err)
	}
	return loc, nil
}
