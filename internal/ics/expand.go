package ics

import (
	"errors"
	"time"

	"github.com/teambition/rrule-go"

	appLog "calwatch/internal/log"
)

const (
	defaultMaxOccurrencesPerEvent = 5000
)

// ExpandConfig controls how recurrence expansion is performed.
type ExpandConfig struct {
	// RangeStart / RangeEnd define the inclusive time window. An occurrence
	// is kept when it overlaps the window, so instances that started before
	// RangeStart but are still running are included.
	RangeStart time.Time
	RangeEnd   time.Time

	// MaxOccurrencesPerEvent is a safety cap to avoid infinite or extremely
	// large expansions. If zero, defaultMaxOccurrencesPerEvent is used.
	MaxOccurrencesPerEvent int
}

// Occurrence is one concrete instance of a ParsedEvent.
type Occurrence struct {
	Event ParsedEvent
	Start time.Time
	End   time.Time

	// Recurring is true when the occurrence was produced from an RRULE or
	// RDATE set, or by an override of such an instance.
	Recurring bool
	// Slot is the start the recurrence set originally scheduled for this
	// instance; it stays put when a RECURRENCE-ID override moves the event.
	Slot time.Time
}

// ExpandResult wraps the list of expanded occurrences and information
// about truncation.
type ExpandResult struct {
	Occurrences []Occurrence
	// TruncatedEvents records UIDs that hit the MaxOccurrencesPerEvent cap.
	TruncatedEvents []string
}

// ExpandOccurrences expands parsed events into concrete occurrences that
// overlap the configured range. It handles:
//
//   - Single non-recurring events
//   - RRULE/RDATE recurrence
//   - EXDATE for exception removal
//   - RECURRENCE-ID overrides
//
// Output order follows the feed order of the base events; occurrences of
// one event are in ascending start order.
func ExpandOccurrences(events []ParsedEvent, cfg ExpandConfig) (ExpandResult, error) {
	var result ExpandResult

	if cfg.RangeEnd.Before(cfg.RangeStart) {
		return result, errors.New("expand: RangeEnd is before RangeStart")
	}
	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}

	// Group base events and overrides by UID, remembering first-seen order.
	baseByUID := make(map[string][]ParsedEvent)
	overridesByUID := make(map[string][]ParsedEvent)
	order := make([]string, 0)

	for _, ev := range events {
		if _, seen := baseByUID[ev.UID]; !seen {
			if _, seenOv := overridesByUID[ev.UID]; !seenOv {
				order = append(order, ev.UID)
			}
		}
		if ev.IsOverride && ev.Recurrence != nil {
			overridesByUID[ev.UID] = append(overridesByUID[ev.UID], ev)
		} else {
			baseByUID[ev.UID] = append(baseByUID[ev.UID], ev)
		}
	}

	for _, uid := range order {
		ov := overridesByUID[uid]
		bases := baseByUID[uid]

		if len(bases) == 0 {
			// Overrides without their master event: keep them as plain events.
			for _, o := range ov {
				if timeRangesOverlap(o.Start, o.End, cfg.RangeStart, cfg.RangeEnd) {
					result.Occurrences = append(result.Occurrences, Occurrence{Event: o, Start: o.Start, End: o.End, Recurring: true, Slot: *o.Recurrence})
				}
			}
			continue
		}

		truncated := false
		for _, ev := range bases {
			occ, hitCap := expandEvent(ev, ov, cfg)
			if hitCap {
				truncated = true
			}
			result.Occurrences = append(result.Occurrences, occ...)
		}

		if truncated {
			result.TruncatedEvents = append(result.TruncatedEvents, uid)
			appLog.Error("expand: truncated occurrences for UID due to cap",
				errors.New("max occurrences reached"),
				"uid", uid,
				"cap", cfg.MaxOccurrencesPerEvent,
			)
		}
	}

	return result, nil
}

func expandEvent(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) ([]Occurrence, bool) {
	if ev.RawRRule == "" && len(ev.RDates) == 0 {
		return expandSingleEvent(ev, cfg), false
	}
	return expandRecurringEvent(ev, overrides, cfg)
}

func expandSingleEvent(ev ParsedEvent, cfg ExpandConfig) []Occurrence {
	if !timeRangesOverlap(ev.Start, ev.End, cfg.RangeStart, cfg.RangeEnd) {
		return nil
	}
	return []Occurrence{{Event: ev, Start: ev.Start, End: ev.End, Slot: ev.Start}}
}

func expandRecurringEvent(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) ([]Occurrence, bool) {
	out := make([]Occurrence, 0)
	hitCap := false

	var set rrule.Set
	if ev.RawRRule != "" {
		opt, err := rrule.StrToROptionInLocation(ev.RawRRule, ev.Start.Location())
		if err != nil {
			appLog.Error("expand: failed to parse RRULE", err, "uid", ev.UID, "rrule", ev.RawRRule)
			return out, false
		}
		opt.Dtstart = ev.Start
		r, err := rrule.NewRRule(*opt)
		if err != nil {
			appLog.Error("expand: invalid RRULE", err, "uid", ev.UID, "rrule", ev.RawRRule)
			return out, false
		}
		set.RRule(r)
	} else {
		// RDATE-only events still occur at their own DTSTART.
		set.RDate(ev.Start)
	}
	for _, rd := range ev.RDates {
		set.RDate(rd.In(ev.Start.Location()))
	}
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	dur := ev.End.Sub(ev.Start)
	if dur < 0 {
		dur = 0
	}

	// Look back by one event length so running instances are found too.
	rangeStart := cfg.RangeStart.Add(-dur).In(ev.Start.Location())
	rangeEnd := cfg.RangeEnd.In(ev.Start.Location())

	occTimes := set.Between(rangeStart, rangeEnd, true)
	if len(occTimes) > cfg.MaxOccurrencesPerEvent {
		occTimes = occTimes[:cfg.MaxOccurrencesPerEvent]
		hitCap = true
	}

	for _, occStart := range occTimes {
		occ := Occurrence{
			Event:     ev,
			Start:     occStart,
			End:       occStart.Add(dur),
			Recurring: true,
			Slot:      occStart,
		}

		if o, ok := findOverrideForStart(overrides, occStart); ok {
			occ.Event = o
			occ.Start = o.Start
			occ.End = o.End
		}

		if !timeRangesOverlap(occ.Start, occ.End, cfg.RangeStart, cfg.RangeEnd) {
			continue
		}
		out = append(out, occ)
	}

	return out, hitCap
}

// findOverrideForStart finds an override whose RECURRENCE-ID is the same
// instant as slot. When a feed carries several revisions of one override,
// the highest SEQUENCE wins and equal ones keep feed order.
func findOverrideForStart(overrides []ParsedEvent, slot time.Time) (ParsedEvent, bool) {
	var best ParsedEvent
	found := false
	for _, ov := range overrides {
		if ov.Recurrence == nil || !ov.Recurrence.Equal(slot) {
			continue
		}
		if !found || ov.Seq > best.Seq {
			best, found = ov, true
		}
	}
	return best, found
}

func timeRangesOverlap(aStart, aEnd, bStart, bEnd time.Time) bool {
	if aEnd.Before(bStart) {
		return false
	}
	if bEnd.Before(aStart) {
		return false
	}
	return true
}
