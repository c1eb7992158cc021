// Package differ compares two snapshots of the same calendars and reports
// which fields of which events changed between them.
package differ

import (
	"calwatch/internal/model"
	"calwatch/internal/zoned"
)

// fieldCheck is one row of the comparison table: how to read a field and
// when two readings count as equal.
type fieldCheck struct {
	kind  model.FieldKind
	value func(model.CalendarEvent) string
	equal func(prev, next model.CalendarEvent) bool
}

func instantField(get func(model.CalendarEvent) zoned.Time) (func(model.CalendarEvent) string, func(a, b model.CalendarEvent) bool) {
	value := func(e model.CalendarEvent) string { return get(e).String() }
	equal := func(a, b model.CalendarEvent) bool { return get(a).Equal(get(b)) }
	return value, equal
}

// textField compares text as stored on the event, where "" already is the
// single "no value" state for absent and empty properties.
func textField(get func(model.CalendarEvent) string) (func(model.CalendarEvent) string, func(a, b model.CalendarEvent) bool) {
	equal := func(a, b model.CalendarEvent) bool { return get(a) == get(b) }
	return get, equal
}

// checks is evaluated in order; every mismatch yields one record.
var checks = func() []fieldCheck {
	startValue, startEqual := instantField(func(e model.CalendarEvent) zoned.Time { return e.Start })
	endValue, endEqual := instantField(func(e model.CalendarEvent) zoned.Time { return e.End })
	descValue, descEqual := textField(func(e model.CalendarEvent) string { return e.Description })
	locValue, locEqual := textField(func(e model.CalendarEvent) string { return e.Location })
	sumValue, sumEqual := textField(func(e model.CalendarEvent) string { return e.Summary })

	return []fieldCheck{
		{model.FieldStart, startValue, startEqual},
		{model.FieldEnd, endValue, endEqual},
		{model.FieldDescription, descValue, descEqual},
		{model.FieldLocation, locValue, locEqual},
		{model.FieldSummary, sumValue, sumEqual},
	}
}()

// Diff matches calendars by name and events by UID and returns, for each
// calendar with at least one changed event, the changed events annotated
// with their change records and previous representation. Events or
// calendars present on only one side are ignored. Inputs are not
// modified.
func Diff(oldCalendars, newCalendars []model.Calendar) []model.ChangedCalendar {
	out := make([]model.ChangedCalendar, 0)

	oldByName := make(map[string]model.Calendar, len(oldCalendars))
	for _, c := range oldCalendars {
		if _, dup := oldByName[c.Name]; !dup {
			oldByName[c.Name] = c
		}
	}

	for _, newCal := range newCalendars {
		oldCal, ok := oldByName[newCal.Name]
		if !ok {
			continue
		}

		oldByUID := make(map[string]model.CalendarEvent, len(oldCal.Events))
		for _, e := range oldCal.Events {
			if _, dup := oldByUID[e.UID]; !dup {
				oldByUID[e.UID] = e
			}
		}

		var changed []model.ChangedEvent
		for _, next := range newCal.Events {
			prev, ok := oldByUID[next.UID]
			if !ok {
				continue
			}
			if records := Compare(prev, next); len(records) > 0 {
				changed = append(changed, model.ChangedEvent{
					CalendarEvent: next,
					Changed:       records,
					OldEvent:      prev,
				})
			}
		}

		if len(changed) > 0 {
			out = append(out, model.ChangedCalendar{Name: newCal.Name, Events: changed})
		}
	}

	return out
}

// Compare returns the change records between two representations of the
// same event, in start, end, description, location, summary order.
func Compare(prev, next model.CalendarEvent) []model.ChangeRecord {
	var records []model.ChangeRecord
	for _, c := range checks {
		if c.equal(prev, next) {
			continue
		}
		records = append(records, model.ChangeRecord{
			Type:          c.kind,
			PreviousValue: c.value(prev),
			NewValue:      c.value(next),
		})
	}
	return records
}

// Added returns, per calendar present in both snapshots, the events whose
// UID did not exist in the old snapshot. Calendars without new events are
// omitted.
func Added(oldCalendars, newCalendars []model.Calendar) []model.Calendar {
	out := make([]model.Calendar, 0)

	oldUIDs := make(map[string]map[string]struct{}, len(oldCalendars))
	for _, c := range oldCalendars {
		set := make(map[string]struct{}, len(c.Events))
		for _, e := range c.Events {
			set[e.UID] = struct{}{}
		}
		oldUIDs[c.Name] = set
	}

	for _, c := range newCalendars {
		known, ok := oldUIDs[c.Name]
		if !ok {
			continue
		}
		var added []model.CalendarEvent
		for _, e := range c.Events {
			if _, seen := known[e.UID]; !seen {
				added = append(added, e)
			}
		}
		if len(added) > 0 {
			out = append(out, model.Calendar{Name: c.Name, Events: added})
		}
	}

	return out
}
