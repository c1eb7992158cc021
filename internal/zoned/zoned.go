// Package zoned provides a zoned timestamp with instant arithmetic and
// calendar-field extraction, plus clocks that report now in a configured
// zone and as a UTC-offset wall clock.
package zoned

import (
	"time"
)

// Time is an instant together with the zone used for calendar-field
// extraction (weekday, month, day-of-month, formatting).
type Time struct {
	t time.Time
}

// New wraps t, keeping its location.
func New(t time.Time) Time {
	return Time{t: t}
}

// Date builds a date-only timestamp anchored at midnight in loc.
func Date(year int, month time.Month, day int, loc *time.Location) Time {
	if loc == nil {
		loc = time.UTC
	}
	return Time{t: time.Date(year, month, day, 0, 0, 0, 0, loc)}
}

func (z Time) Instant() time.Time { return z.t }
func (z Time) IsZero() bool { return z.t.IsZero() }
func (z Time) Location() *time.Location { return z.t.Location() }
func (z Time) Add(d time.Duration) Time { return Time{t: z.t.Add(d)} }
func (z Time) Sub(other Time) time.Duration { return z.t.Sub(other.t) }
func (z Time) Equal(other Time) bool { return z.t.Equal(other.t) }
func (z Time) Before(other Time) bool { return z.t.Before(other.t) }
func (z Time) After(other Time) bool { return z.t.After(other.t) }
func (z Time) Weekday() time.Weekday { return z.t.Weekday() }
func (z Time) Month() time.Month { return z.t.Month() }
func (z Time) Day() int { return z.t.Day() }
func (z Time) Format(layout string) string { return z.t.Format(layout) }

func (z Time) AddDate(years, months, days int) Time {
	return Time{t: z.t.AddDate(years, months, days)}
}

// In returns the same instant viewed from loc.
func (z Time) In(loc *time.Location) Time {
	if loc == nil {
		return z
	}
	return Time{t: z.t.In(loc)}
}

// UTC returns the same instant viewed with a zero offset.
func (z Time) UTC() Time {
	return Time{t: z.t.UTC()}
}

// DiffSeconds returns z - other in whole seconds, truncated toward zero.
func (z Time) DiffSeconds(other Time) int64 {
	return int64(z.t.Sub(other.t) / time.Second)
}

// DiffMinutes returns z - other in fractional minutes.
func (z Time) DiffMinutes(other Time) float64 {
	return float64(z.t.Sub(other.t)) / float64(time.Minute)
}

// ISODate is the YYYY-MM-DD date of the instant in UTC. Recurring
// occurrence identifiers are built from it so they do not depend on the
// viewer's zone.
func (z Time) ISODate() string {
	return z.t.UTC().Format("2006-01-02")
}

// String renders the instant as RFC 3339 in its own zone.
func (z Time) String() string {
	if z.t.IsZero() {
		return ""
	}
	return z.t.Format(time.RFC3339)
}
