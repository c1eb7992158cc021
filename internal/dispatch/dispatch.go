// Package dispatch turns extracted, diffed and time-matched events into
// trigger-card invocations on an automation host.
package dispatch

import (
	"context"
	"errors"
	"fmt"

	appLog "calwatch/internal/log"
	"calwatch/internal/model"
	"calwatch/internal/zoned"
)

// Card identifiers known to the host.
const (
	CardSynchronizationError = "synchronization_error"
	CardEventChanged         = "event_changed"
	CardEventChangedCalendar = "event_changed_calendar"
	CardEventAdded           = "event_added"
	CardEventAddedCalendar   = "event_added_calendar"
	CardEventStarts          = "event_starts"
	CardEventStartsCalendar  = "event_starts_calendar"
	CardEventStops           = "event_stops"
	CardEventStopsCalendar   = "event_stops_calendar"
	CardEventStartsIn        = "event_starts_in"
	CardEventStopsIn         = "event_stops_in"
)

var ErrNoArgumentValues = errors.New("found no argument values")

// Tokens is the flat value map handed to a card.
type Tokens map[string]any

// State correlates a trigger with the user's rule arguments. Exactly one of
// CalendarName or When is set.
type State struct {
	CalendarName string `json:"calendarName,omitempty"`
	When         *int   `json:"when,omitempty"`
}

// TriggerCard is one host-side trigger.
type TriggerCard interface {
	Trigger(ctx context.Context, tokens Tokens, state *State) error
	// ArgumentValues returns the configured rule arguments. Anything other
	// than []*ArgumentValue or []ArgumentValue means "no rules".
	ArgumentValues(ctx context.Context) (any, error)
}

type Host interface {
	TriggerCard(id string) TriggerCard
}

type HitCounter interface {
	Increment(ctx context.Context, id string, args map[string]string) error
}

// CalendarArgument selects a calendar in a rule.
type CalendarArgument struct {
	Name string `json:"name"`
}

// ArgumentValue is one user rule bound to a card.
type ArgumentValue struct {
	Calendar *CalendarArgument `json:"calendar,omitempty"`
	When     float64           `json:"when,omitempty"`
	Type     string            `json:"type,omitempty"`
}

// SyncError describes a failure while loading a calendar or dispatching one
// of its events. Event is nil for load failures.
type SyncError struct {
	Calendar string
	Err      error
	Event    *model.CalendarEvent
	// Stack is optional. When empty, Trace falls back to a stack carried
	// by Err.
	Stack string
}

func (e SyncError) Error() string {
	if e.Event != nil {
		return fmt.Sprintf("calendar %q event %q: %v", e.Calendar, e.Event.UID, e.Err)
	}
	return fmt.Sprintf("calendar %q: %v", e.Calendar, e.Err)
}

func (e SyncError) Unwrap() error { return e.Err }

// Message is the text exposed to the host as calendar_error.
func (e SyncError) Message() string {
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

// Trace is the stack exposed to the host as calendar_error_stack.
func (e SyncError) Trace() string {
	if e.Stack != "" {
		return e.Stack
	}
	return StackOf(e.Err)
}

type stackTracer interface {
	StackTrace() string
}

// StackOf returns the stack carried by err or by any error it wraps.
func StackOf(err error) string {
	var st stackTracer
	if errors.As(err, &st) {
		return st.StackTrace()
	}
	return ""
}

type SyncErrorReporter interface {
	ReportSyncError(ctx context.Context, syncErr SyncError)
}

// DateFormats are Go layouts used for the "event added" date tokens.
type DateFormats struct {
	Long string
	Time string
}

// Options configures a Dispatcher. Zero values fall back to UTC, the
// system clock and the dispatcher itself as error reporter.
type Options struct {
	Formats  DateFormats
	Timezone string
	Clock    zoned.Clock
	Reporter SyncErrorReporter
}

type Dispatcher struct {
	host     Host
	hits     HitCounter
	reporter SyncErrorReporter
	formats  DateFormats
	timezone string
	clock    zoned.Clock
}

func New(host Host, hits HitCounter, opts Options) *Dispatcher {
	d := &Dispatcher{
		host:     host,
		hits:     hits,
		reporter: opts.Reporter,
		formats:  opts.Formats,
		timezone: opts.Timezone,
		clock:    opts.Clock,
	}
	if d.clock == nil {
		d.clock = zoned.SystemClock{}
	}
	if d.formats.Long == "" {
		d.formats.Long = "01/02/2006"
	}
	if d.formats.Time == "" {
		d.formats.Time = "15:04"
	}
	if d.reporter == nil {
		d.reporter = d
	}
	return d
}

// Now returns the dispatcher's clock pair in its configured zone, or UTC if
// the zone cannot be loaded.
func (d *Dispatcher) Now() zoned.Pair {
	pair, err := zoned.Now(d.clock, d.timezone)
	if err != nil {
		appLog.Error("dispatch: invalid timezone, using UTC", err, "timezone", d.timezone)
		return zoned.PairAt(d.clock.Now(), nil)
	}
	return pair
}

// ReportSyncError implements SyncErrorReporter by firing the
// synchronization_error card.
func (d *Dispatcher) ReportSyncError(ctx context.Context, syncErr SyncError) {
	d.TriggerSynchronizationError(ctx, syncErr)
}

// TriggerSynchronizationError fires synchronization_error. Its own failures
// are logged and never reported again.
func (d *Dispatcher) TriggerSynchronizationError(ctx context.Context, syncErr SyncError) {
	stack := syncErr.Trace()
	tokens := Tokens{
		"calendar_name":        syncErr.Calendar,
		"calendar_error":       syncErr.Message(),
		"calendar_error_stack": stack,
		"on_calendar_load":     syncErr.Event == nil,
		"on_event_load":        syncErr.Event != nil,
		"event_name":           "",
		"event_uid":            "",
	}
	if syncErr.Event != nil {
		tokens["event_name"] = syncErr.Event.Summary
		tokens["event_uid"] = syncErr.Event.UID
	}

	appLog.Info("dispatch: triggering synchronization_error",
		"calendar", syncErr.Calendar,
		"on_event_load", syncErr.Event != nil,
		"error", syncErr.Message(),
	)
	if stack != "" {
		appLog.Debug("dispatch: synchronization error stack", "calendar", syncErr.Calendar, "stack", stack)
	}

	if err := d.host.TriggerCard(CardSynchronizationError).Trigger(ctx, tokens, nil); err != nil {
		appLog.Error("dispatch: failed to trigger synchronization_error", err, "calendar", syncErr.Calendar)
		return
	}
	d.hit(ctx, CardSynchronizationError, nil)
}

func (d *Dispatcher) report(ctx context.Context, calendar string, event *model.CalendarEvent, err error) {
	ev := *event
	d.reporter.ReportSyncError(ctx, SyncError{Calendar: calendar, Err: err, Event: &ev})
}

func (d *Dispatcher) hit(ctx context.Context, id string, args map[string]string) {
	if d.hits == nil {
		return
	}
	if err := d.hits.Increment(ctx, id, args); err != nil {
		appLog.Warn("dispatch: hit count update failed", "card", id, "err", err)
	}
}

// argumentValues normalizes a card's rule arguments. A non-list value is
// logged and treated as no rules. nil entries are kept so callers can warn
// about them individually.
func argumentValues(ctx context.Context, card TriggerCard, id string) ([]*ArgumentValue, error) {
	raw, err := card.ArgumentValues(ctx)
	if err != nil {
		return nil, fmt.Errorf("argument values for %s: %w", id, err)
	}
	switch v := raw.(type) {
	case []*ArgumentValue:
		return v, nil
	case []ArgumentValue:
		out := make([]*ArgumentValue, len(v))
		for i := range v {
			out[i] = &v[i]
		}
		return out, nil
	default:
		appLog.Warn("dispatch: treating argument values as no rules", "card", id, "err", ErrNoArgumentValues, "type", fmt.Sprintf("%T", raw))
		return nil, nil
	}
}
