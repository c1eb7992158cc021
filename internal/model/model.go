package model

import "calwatch/internal/zoned"

// DateType tells whether an event carries a time-of-day component.
type DateType string

const (
	DateTypeDate     DateType = "date"
	DateTypeDateTime DateType = "date-time"
)

// CalendarEvent is one concrete occurrence produced by a sync cycle.
// Recurring events are already expanded; each instance has its own UID.
//
// Text fields use "" as the single "no value" state, so an absent
// property and an empty one compare equal.
type CalendarEvent struct {
	UID string

	Start    zoned.Time
	End      zoned.Time
	DateType DateType

	Summary     string
	Description string
	Location    string

	FreeBusy   string
	MeetingURL string

	FullDay bool
	// SkipTimezoneConversion marks floating times that must be compared
	// against the fixed-offset clock.
	SkipTimezoneConversion bool
}

// UseOffsetClock reports whether predicates compare this event against the
// UTC-offset clock instead of the configured zone.
func (e CalendarEvent) UseOffsetClock() bool {
	return e.FullDay || e.SkipTimezoneConversion
}

// Calendar is the named list of events of one feed. Name is unique within
// a snapshot.
type Calendar struct {
	Name   string
	Events []CalendarEvent
}

// FieldKind names an event field tracked by the differ.
type FieldKind string

const (
	FieldStart       FieldKind = "start"
	FieldEnd         FieldKind = "end"
	FieldDescription FieldKind = "description"
	FieldLocation    FieldKind = "location"
	FieldSummary     FieldKind = "summary"
)

// ChangeRecord is one field-level difference between two syncs.
type ChangeRecord struct {
	Type          FieldKind
	PreviousValue string
	NewValue      string
}

// ChangedEvent is the new representation of an event plus what changed
// and what it looked like before.
type ChangedEvent struct {
	CalendarEvent
	Changed  []ChangeRecord
	OldEvent CalendarEvent
}

// ChangedCalendar groups the changed events of one calendar.
type ChangedCalendar struct {
	Name   string
	Events []ChangedEvent
}

// CloneCalendars returns a copy whose event slices do not alias the input.
func CloneCalendars(calendars []Calendar) []Calendar {
	if calendars == nil {
		return nil
	}
	out := make([]Calendar, len(calendars))
	for i, c := range calendars {
		out[i] = Calendar{Name: c.Name, Events: append([]CalendarEvent(nil), c.Events...)}
	}
	return out
}
