// Package filter selects calendars and events by name, UID or text
// property. All functions tolerate nil input and never fail.
package filter

import (
	"fmt"
	"strings"

	"calwatch/internal/model"
)

// Field is an event text property that can be queried.
type Field string

const (
	FieldSummary     Field = "summary"
	FieldDescription Field = "description"
	FieldLocation    Field = "location"
)

// Matcher is how a query is compared against a field value.
type Matcher string

const (
	MatcherContains   Matcher = "contains"
	MatcherEqual      Matcher = "equal"
	MatcherStartsWith Matcher = "starts with"
	MatcherEndsWith   Matcher = "ends with"
)

func ParseField(s string) (Field, error) {
	switch f := Field(strings.ToLower(strings.TrimSpace(s))); f {
	case FieldSummary, FieldDescription, FieldLocation:
		return f, nil
	}
	return "", fmt.Errorf("unknown field %q", s)
}

// ParseMatcher accepts the matcher names used by rule arguments; an empty
// string means contains.
func ParseMatcher(s string) (Matcher, error) {
	switch m := Matcher(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return MatcherContains, nil
	case MatcherContains, MatcherEqual, MatcherStartsWith, MatcherEndsWith:
		return m, nil
	}
	return "", fmt.Errorf("unknown matcher %q", s)
}

// FilterByCalendar returns the calendars named name (zero or one).
func FilterByCalendar(calendars []model.Calendar, name string) []model.Calendar {
	out := make([]model.Calendar, 0, 1)
	for _, c := range calendars {
		if c.Name == name {
			out = append(out, c)
		}
	}
	return out
}

// FilterByProperty returns one entry per input calendar, in input order,
// holding only the events whose field satisfies matcher against query.
// An empty query counts as not provided and matches nothing; events
// without a value for field never match.
func FilterByProperty(calendars []model.Calendar, query string, field Field, matcher Matcher) []model.Calendar {
	return filterEvents(calendars, func(e model.CalendarEvent) bool {
		if query == "" {
			return false
		}
		value := fieldValue(e, field)
		if value == "" {
			return false
		}
		return match(value, query, matcher)
	})
}

// FilterByUID returns one entry per input calendar holding only the event
// with the given UID. An empty uid matches nothing.
func FilterByUID(calendars []model.Calendar, uid string) []model.Calendar {
	return filterEvents(calendars, func(e model.CalendarEvent) bool {
		return uid != "" && e.UID == uid
	})
}

func filterEvents(calendars []model.Calendar, keep func(model.CalendarEvent) bool) []model.Calendar {
	out := make([]model.Calendar, 0, len(calendars))
	for _, c := range calendars {
		events := make([]model.CalendarEvent, 0)
		for _, e := range c.Events {
			if keep(e) {
				events = append(events, e)
			}
		}
		out = append(out, model.Calendar{Name: c.Name, Events: events})
	}
	return out
}

func fieldValue(e model.CalendarEvent, field Field) string {
	switch field {
	case FieldDescription:
		return e.Description
	case FieldLocation:
		return e.Location
	default:
		return e.Summary
	}
}

func match(value, query string, matcher Matcher) bool {
	switch matcher {
	case MatcherEqual:
		return value == query
	case MatcherStartsWith:
		return strings.HasPrefix(value, query)
	case MatcherEndsWith:
		return strings.HasSuffix(value, query)
	default:
		return strings.Contains(value, query)
	}
}
