// Package conditions evaluates time-relative predicates over events:
// ongoing, starting within N minutes and ending within N minutes.
package conditions

import (
	"time"

	appLog "calwatch/internal/log"
	"calwatch/internal/model"
	"calwatch/internal/zoned"
)

// IsEventOngoing reports whether any event has start <= now <= end, both
// bounds inclusive, measured in whole seconds. caller only labels the
// diagnostic line.
func IsEventOngoing(now zoned.Pair, events []model.CalendarEvent, caller string) bool {
	if caller == "" {
		caller = "condition"
	}
	for _, event := range events {
		if !wellFormed(event, "isEventOngoing") {
			continue
		}
		clock := now.For(event.UseOffsetClock())
		startDiff := clock.DiffSeconds(event.Start)
		endDiff := clock.DiffSeconds(event.End)
		if startDiff >= 0 && endDiff <= 0 {
			appLog.Debug("isEventOngoing-"+caller+": ongoing",
				"uid", event.UID,
				"since_start_s", startDiff,
				"since_end_s", endDiff,
				"now", clock.String(),
				"offset_used", event.UseOffsetClock(),
			)
			return true
		}
	}
	return false
}

// IsEventIn reports whether any event starts within the next when minutes:
// 0 <= start-now <= when, in fractional minutes.
func IsEventIn(now zoned.Pair, events []model.CalendarEvent, when float64) bool {
	for _, event := range events {
		if !wellFormed(event, "isEventIn") {
			continue
		}
		clock := now.For(event.UseOffsetClock())
		startDiff := event.Start.DiffMinutes(clock)
		if startDiff >= 0 && startDiff <= when {
			appLog.Debug("isEventIn: starting",
				"uid", event.UID,
				"minutes_until_start", startDiff,
				"when", when,
				"now", clock.String(),
				"offset_used", event.UseOffsetClock(),
			)
			return true
		}
	}
	return false
}

// WillEventNotIn reports whether any event ends within the next when
// minutes and has not ended yet: 0 <= end-now < when.
func WillEventNotIn(now zoned.Pair, events []model.CalendarEvent, when float64) bool {
	for _, event := range events {
		if !wellFormed(event, "willEventNotIn") {
			continue
		}
		clock := now.For(event.UseOffsetClock())
		endDiff := event.End.DiffMinutes(clock)
		if endDiff >= 0 && endDiff < when {
			appLog.Debug("willEventNotIn: ending",
				"uid", event.UID,
				"minutes_until_end", endDiff,
				"when", when,
				"now", clock.String(),
				"offset_used", event.UseOffsetClock(),
			)
			return true
		}
	}
	return false
}

// wellFormed excludes events that lack a start or end.
func wellFormed(event model.CalendarEvent, caller string) bool {
	if event.Start.IsZero() || event.End.IsZero() {
		appLog.Debug(caller+": event without start or end excluded", "uid", event.UID)
		return false
	}
	return true
}

// Evaluator binds the predicates to a clock and a configured zone.
type Evaluator struct {
	Clock    zoned.Clock
	Timezone string
}

// Now resolves the evaluator's clock pair. An unknown zone falls back to
// UTC so predicates keep working.
func (e Evaluator) Now() zoned.Pair {
	pair, err := zoned.Now(e.Clock, e.Timezone)
	if err != nil {
		appLog.Error("conditions: invalid timezone, using UTC", err, "timezone", e.Timezone)
		clock := e.Clock
		if clock == nil {
			clock = zoned.SystemClock{}
		}
		return zoned.PairAt(clock.Now(), time.UTC)
	}
	return pair
}

func (e Evaluator) Ongoing(events []model.CalendarEvent) bool {
	return IsEventOngoing(e.Now(), events, "condition")
}

func (e Evaluator) StartsIn(events []model.CalendarEvent, when float64) bool {
	return IsEventIn(e.Now(), events, when)
}

func (e Evaluator) EndsIn(events []model.CalendarEvent, when float64) bool {
	return WillEventNotIn(e.Now(), events, when)
}
