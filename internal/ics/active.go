package ics

import (
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"time"

	appLog "calwatch/internal/log"
	"calwatch/internal/model"
	"calwatch/internal/zoned"
)

// Unit is the unit of an active window.
type Unit string

const (
	UnitHours  Unit = "hours"
	UnitDays   Unit = "days"
	UnitWeeks  Unit = "weeks"
	UnitMonths Unit = "months"
)

// ParseUnit accepts the unit names used in config files.
func ParseUnit(s string) (Unit, error) {
	switch u := Unit(strings.ToLower(strings.TrimSpace(s))); u {
	case UnitHours, UnitDays, UnitWeeks, UnitMonths:
		return u, nil
	}
	return "", fmt.Errorf("unknown window unit %q", s)
}

// Window is the rolling span (now .. now+Value Unit) events must touch to
// be part of a snapshot.
type Window struct {
	Value int
	Unit  Unit
}

// End returns now advanced by the window.
func (w Window) End(now time.Time) time.Time {
	switch w.Unit {
	case UnitHours:
		return now.Add(time.Duration(w.Value) * time.Hour)
	case UnitWeeks:
		return now.AddDate(0, 0, 7*w.Value)
	case UnitMonths:
		return now.AddDate(0, w.Value, 0)
	default:
		return now.AddDate(0, 0, w.Value)
	}
}

func (w Window) String() string {
	return fmt.Sprintf("%d %s", w.Value, w.Unit)
}

// PanicError is a panic recovered while parsing or expanding a calendar.
type PanicError struct {
	Value any
	Stack string
}

func (e *PanicError) Error() string { return fmt.Sprintf("panic: %v", e.Value) }

// StackTrace returns the goroutine stack captured when the panic was
// recovered.
func (e *PanicError) StackTrace() string { return e.Stack }

func recoverAsError(err *error) {
	if r := recover(); r != nil {
		*err = &PanicError{Value: r, Stack: string(debug.Stack())}
	}
}

// Extract parses an ICS payload and returns its active events. A panic in
// the parser or the recurrence expansion is returned as a *PanicError.
func Extract(src Source, body []byte, window Window, now zoned.Pair) (events []model.CalendarEvent, err error) {
	defer recoverAsError(&err)

	parsed, err := ParseICS(src, body)
	if err != nil {
		return nil, err
	}
	return ExtractActiveEvents(parsed, window, now), nil
}

// ExtractActiveEvents turns parsed events into the flat list of
// occurrences that are ongoing at now or end no earlier than now and
// start no later than the window end. All-day and floating occurrences
// are measured against now.UTCOffset, timed ones against now.Regular.
// A zero now means the current time in UTC.
//
// Recurring instances get the UID "<uid>_<YYYY-MM-DD>" built from the
// date their recurrence slot falls on, so the same occurrence keeps its
// identity across syncs. UIDs are unique in the result; later duplicates
// are dropped. The result is ordered by start, then UID.
func ExtractActiveEvents(parsed []ParsedEvent, window Window, now zoned.Pair) []model.CalendarEvent {
	if now.Regular.IsZero() {
		now = zoned.PairAt(time.Now(), time.UTC)
	}
	regular := now.Regular.Instant()
	offset := now.UTCOffset.Instant()

	rangeStart, rangeEnd := regular, window.End(regular)
	if offset.Before(rangeStart) {
		rangeStart = offset
	}
	if offsetEnd := window.End(offset); offsetEnd.After(rangeEnd) {
		rangeEnd = offsetEnd
	}

	res, err := ExpandOccurrences(parsed, ExpandConfig{
		RangeStart: rangeStart,
		RangeEnd:   rangeEnd,
	})
	if err != nil {
		appLog.Error("extract: expansion failed", err, "window", window.String())
		return []model.CalendarEvent{}
	}

	events := make([]model.CalendarEvent, 0, len(res.Occurrences))
	seen := make(map[string]struct{}, len(res.Occurrences))

	for _, occ := range res.Occurrences {
		ref := now.For(occ.Event.AllDay || occ.Event.Floating).Instant()
		if occ.End.Before(ref) || occ.Start.After(window.End(ref)) {
			continue
		}

		ev := toCalendarEvent(occ)
		if _, dup := seen[ev.UID]; dup {
			appLog.Debug("extract: duplicate uid dropped", "uid", ev.UID, "calendar", occ.Event.Source.Name)
			continue
		}
		seen[ev.UID] = struct{}{}
		events = append(events, ev)
	}

	sort.SliceStable(events, func(i, j int) bool {
		if !events[i].Start.Equal(events[j].Start) {
			return events[i].Start.Before(events[j].Start)
		}
		return events[i].UID < events[j].UID
	})

	return events
}

func toCalendarEvent(occ Occurrence) model.CalendarEvent {
	ev := occ.Event

	uid := ev.UID
	if occ.Recurring {
		uid = ev.UID + "_" + zoned.New(occ.Slot).ISODate()
	}

	dateType := model.DateTypeDateTime
	if ev.AllDay {
		dateType = model.DateTypeDate
	}

	return model.CalendarEvent{
		UID:                    uid,
		Start:                  zoned.New(occ.Start),
		End:                    zoned.New(occ.End),
		DateType:               dateType,
		Summary:                ev.Summary,
		Description:            ev.Description,
		Location:               ev.Location,
		FreeBusy:               ev.FreeBusy,
		MeetingURL:             ev.MeetingURL,
		FullDay:                ev.AllDay,
		SkipTimezoneConversion: ev.AllDay || ev.Floating,
	}
}
