package dispatch

import (
	"context"
	"math"
	"strconv"
	"time"

	"calwatch/internal/conditions"
	appLog "calwatch/internal/log"
	"calwatch/internal/model"
	"calwatch/internal/zoned"
)

// startStopWindow is how many seconds after start or end an event still
// fires event_starts / event_stops. Ticks run once a minute.
const startStopWindow = 55

// EventTrigger is one pending card invocation for an event. A nil State
// fires the card unconditionally.
type EventTrigger struct {
	CalendarName string
	Event        model.CalendarEvent
	TriggerID    string
	State        *State
}

// TriggerChangedCalendars fires event_changed and event_changed_calendar
// for every changed event, using its first change record.
func (d *Dispatcher) TriggerChangedCalendars(ctx context.Context, calendars []model.ChangedCalendar) {
	now := d.Now()
	loc := now.Regular.Location()

	for _, calendar := range calendars {
		for _, event := range calendar.Events {
			if len(event.Changed) == 0 {
				continue
			}
			change := event.Changed[0]
			prevValue, newValue := d.changeValues(change, event, loc)
			tokens := Tokens{
				"event_name":          TokenValue(event.Summary),
				"event_calendar_name": calendar.Name,
				"event_type":          string(change.Type),
				"event_prev_value":    prevValue,
				"event_new_value":     newValue,
				"event_was_ongoing":   conditions.IsEventOngoing(now, []model.CalendarEvent{event.OldEvent}, "changedEvent"),
				"event_ongoing":       conditions.IsEventOngoing(now, []model.CalendarEvent{event.CalendarEvent}, "changedEvent"),
			}

			if err := d.host.TriggerCard(CardEventChanged).Trigger(ctx, tokens, nil); err != nil {
				appLog.Error("dispatch: trigger failed", err, "card", CardEventChanged, "uid", event.UID)
				d.report(ctx, calendar.Name, &event.CalendarEvent, err)
			} else {
				appLog.Info("dispatch: triggered", "card", CardEventChanged, "uid", event.UID)
				d.hit(ctx, CardEventChanged, nil)
			}

			state := &State{CalendarName: calendar.Name}
			if err := d.triggerWithState(ctx, CardEventChangedCalendar, event.UID, tokens, state); err != nil {
				appLog.Error("dispatch: trigger with state failed", err, "card", CardEventChangedCalendar, "uid", event.UID, "calendar", calendar.Name)
				d.report(ctx, calendar.Name, &event.CalendarEvent, err)
			}
		}
	}
}

// changeValues renders a change record for the card tokens. Start and end
// changes are formatted like the event_added dates instead of the raw
// RFC 3339 values the differ compares.
func (d *Dispatcher) changeValues(change model.ChangeRecord, event model.ChangedEvent, loc *time.Location) (string, string) {
	var prev, next zoned.Time
	switch change.Type {
	case model.FieldStart:
		prev, next = event.OldEvent.Start, event.CalendarEvent.Start
	case model.FieldEnd:
		prev, next = event.OldEvent.End, event.CalendarEvent.End
	default:
		return TokenValue(change.PreviousValue), TokenValue(change.NewValue)
	}
	return d.formatMoment(prev, event.OldEvent, loc), d.formatMoment(next, event.CalendarEvent, loc)
}

func (d *Dispatcher) formatMoment(t zoned.Time, event model.CalendarEvent, loc *time.Location) string {
	if t.IsZero() {
		return ""
	}
	if !event.UseOffsetClock() {
		t = t.In(loc)
	}
	return t.Format(d.formats.Long + " " + d.formats.Time)
}

// TriggerEvents fires each pending trigger. A failing card is reported as a
// synchronization error and the remaining triggers still run.
func (d *Dispatcher) TriggerEvents(ctx context.Context, triggers []EventTrigger) {
	loc := d.Now().Regular.Location()

	for _, tr := range triggers {
		tokens := d.eventTokens(tr, loc)

		if tr.State == nil {
			if err := d.host.TriggerCard(tr.TriggerID).Trigger(ctx, tokens, nil); err != nil {
				appLog.Error("dispatch: trigger failed", err, "card", tr.TriggerID, "uid", tr.Event.UID)
				d.report(ctx, tr.CalendarName, &tr.Event, err)
				continue
			}
			appLog.Info("dispatch: triggered", "card", tr.TriggerID, "uid", tr.Event.UID)
			d.hit(ctx, tr.TriggerID, nil)
			continue
		}

		if err := d.triggerWithState(ctx, tr.TriggerID, tr.Event.UID, tokens, tr.State); err != nil {
			appLog.Error("dispatch: trigger with state failed", err, "card", tr.TriggerID, "uid", tr.Event.UID)
			d.report(ctx, tr.CalendarName, &tr.Event, err)
		}
	}
}

// triggerWithState fires the card once per rule argument matching state.
func (d *Dispatcher) triggerWithState(ctx context.Context, id, uid string, tokens Tokens, state *State) error {
	card := d.host.TriggerCard(id)
	args, err := argumentValues(ctx, card, id)
	if err != nil {
		return err
	}

	for _, arg := range args {
		if arg == nil {
			appLog.Warn("dispatch: card probably has a misconfigured or disabled rule", "card", id)
			continue
		}

		switch {
		case state.CalendarName != "":
			if arg.Calendar == nil || arg.Calendar.Name != state.CalendarName {
				continue
			}
			if err := card.Trigger(ctx, tokens, state); err != nil {
				return err
			}
			appLog.Info("dispatch: triggered", "card", id, "uid", uid, "calendar", state.CalendarName)
			d.hit(ctx, id, map[string]string{"calendar": arg.Calendar.Name})
		case state.When != nil:
			if ConvertToMinutes(arg.When, arg.Type) != *state.When {
				continue
			}
			if err := card.Trigger(ctx, tokens, state); err != nil {
				return err
			}
			appLog.Info("dispatch: triggered", "card", id, "uid", uid, "when", *state.When)
			d.hit(ctx, id, map[string]string{
				"when": strconv.FormatFloat(arg.When, 'f', -1, 64),
				"type": arg.Type,
			})
		default:
			appLog.Warn("dispatch: unknown state", "card", id, "uid", uid)
		}
	}
	return nil
}

func (d *Dispatcher) eventTokens(tr EventTrigger, loc *time.Location) Tokens {
	readable, minutes := Duration(tr.Event)
	tokens := Tokens{
		"event_name":              TokenValue(tr.Event.Summary),
		"event_description":       TokenValue(tr.Event.Description),
		"event_location":          TokenValue(tr.Event.Location),
		"event_duration_readable": readable,
		"event_duration":          minutes,
		"event_calendar_name":     tr.CalendarName,
		"event_status":            tr.Event.FreeBusy,
		"event_meeting_url":       tr.Event.MeetingURL,
	}

	if tr.TriggerID == CardEventAdded || tr.TriggerID == CardEventAddedCalendar {
		start, end := tr.Event.Start, tr.Event.End
		if !tr.Event.UseOffsetClock() {
			start, end = start.In(loc), end.In(loc)
		}
		tokens["event_start_date"] = start.Format(d.formats.Long)
		tokens["event_start_time"] = start.Format(d.formats.Time)
		tokens["event_end_date"] = end.Format(d.formats.Long)
		tokens["event_end_time"] = end.Format(d.formats.Time)
		tokens["event_weekday_readable"] = Capitalize(start.Weekday().String())
		tokens["event_month_readable"] = Capitalize(start.Month().String())
		tokens["event_date_of_month"] = start.Day()
	}

	return tokens
}

// EventsToTrigger selects the time-based triggers due at now: starts and
// stops within the last startStopWindow seconds, plus starts_in / stops_in
// with the whole minutes remaining.
func EventsToTrigger(now zoned.Pair, calendars []model.Calendar) []EventTrigger {
	var out []EventTrigger

	for _, calendar := range calendars {
		for _, event := range calendar.Events {
			if event.Start.IsZero() || event.End.IsZero() {
				continue
			}
			clock := now.For(event.UseOffsetClock())
			sinceStart := clock.DiffSeconds(event.Start)
			sinceEnd := clock.DiffSeconds(event.End)

			if sinceStart >= 0 && sinceStart <= startStopWindow {
				out = append(out,
					EventTrigger{CalendarName: calendar.Name, Event: event, TriggerID: CardEventStarts},
					EventTrigger{CalendarName: calendar.Name, Event: event, TriggerID: CardEventStartsCalendar, State: &State{CalendarName: calendar.Name}},
				)
			}
			if sinceEnd >= 0 && sinceEnd <= startStopWindow {
				out = append(out,
					EventTrigger{CalendarName: calendar.Name, Event: event, TriggerID: CardEventStops},
					EventTrigger{CalendarName: calendar.Name, Event: event, TriggerID: CardEventStopsCalendar, State: &State{CalendarName: calendar.Name}},
				)
			}

			if sinceStart < 0 {
				if when := int(math.Round(event.Start.DiffMinutes(clock))); when > 0 {
					out = append(out, EventTrigger{CalendarName: calendar.Name, Event: event, TriggerID: CardEventStartsIn, State: &State{When: &when}})
				}
			}
			if sinceEnd < 0 {
				if when := int(math.Round(event.End.DiffMinutes(clock))); when > 0 {
					out = append(out, EventTrigger{CalendarName: calendar.Name, Event: event, TriggerID: CardEventStopsIn, State: &State{When: &when}})
				}
			}
		}
	}

	return out
}

// AddedTriggers builds event_added and event_added_calendar triggers for
// newly seen events.
func AddedTriggers(calendars []model.Calendar) []EventTrigger {
	var out []EventTrigger
	for _, calendar := range calendars {
		for _, event := range calendar.Events {
			out = append(out,
				EventTrigger{CalendarName: calendar.Name, Event: event, TriggerID: CardEventAdded},
				EventTrigger{CalendarName: calendar.Name, Event: event, TriggerID: CardEventAddedCalendar, State: &State{CalendarName: calendar.Name}},
			)
		}
	}
	return out
}
