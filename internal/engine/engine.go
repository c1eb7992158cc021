// Package engine runs sync cycles: it loads every calendar, extracts its
// active events, diffs them against the previous snapshot and dispatches
// the resulting triggers.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"calwatch/internal/conditions"
	"calwatch/internal/differ"
	"calwatch/internal/dispatch"
	"calwatch/internal/ics"
	appLog "calwatch/internal/log"
	"calwatch/internal/model"
	"calwatch/internal/zoned"
)

// Options configures an Engine.
type Options struct {
	Calendars []ics.Source
	Window    ics.Window
	Timezone  string
	Clock     zoned.Clock
}

// Status summarizes the last sync cycle.
type Status struct {
	RunID     string            `json:"run_id"`
	LastSync  time.Time         `json:"last_sync"`
	Synced    bool              `json:"synced"`
	Calendars int               `json:"calendars"`
	Events    int               `json:"events"`
	Errors    map[string]string `json:"errors,omitempty"`
}

type Engine struct {
	opts       Options
	loader     *ics.Loader
	dispatcher *dispatch.Dispatcher

	syncMu sync.Mutex

	mu        sync.RWMutex
	calendars []model.Calendar
	status    Status
}

func New(opts Options, loader *ics.Loader, dispatcher *dispatch.Dispatcher) *Engine {
	if opts.Clock == nil {
		opts.Clock = zoned.SystemClock{}
	}
	if loader == nil {
		loader = ics.NewLoader()
	}
	return &Engine{
		opts:       opts,
		loader:     loader,
		dispatcher: dispatcher,
		calendars:  []model.Calendar{},
	}
}

// Sync runs one cycle. Calendars that fail to load or parse raise a
// synchronization error and keep their previous events. Changed and added
// triggers only fire once a previous snapshot exists.
func (e *Engine) Sync(ctx context.Context) error {
	e.syncMu.Lock()
	defer e.syncMu.Unlock()

	runID := uuid.NewString()
	started := e.opts.Clock.Now()
	appLog.Info("sync start", "run_id", runID, "calendars", len(e.opts.Calendars), "window", e.opts.Window.String())

	now := e.Evaluator().Now()
	results, failures := e.loader.LoadAll(ctx, e.opts.Calendars)

	fresh := make(map[string][]model.CalendarEvent, len(results))
	for _, res := range results {
		events, err := ics.Extract(res.Source, res.Body, e.opts.Window, now)
		if err != nil {
			failures[res.Source.Name] = err
			continue
		}
		fresh[res.Source.Name] = events
	}

	e.mu.RLock()
	prev := e.calendars
	first := !e.status.Synced
	e.mu.RUnlock()

	prevByName := make(map[string]model.Calendar, len(prev))
	for _, c := range prev {
		prevByName[c.Name] = c
	}

	next := make([]model.Calendar, 0, len(e.opts.Calendars))
	events := 0
	for _, src := range e.opts.Calendars {
		if evs, ok := fresh[src.Name]; ok {
			next = append(next, model.Calendar{Name: src.Name, Events: evs})
			events += len(evs)
			continue
		}
		if old, ok := prevByName[src.Name]; ok {
			appLog.Warn("sync: keeping previous events", "run_id", runID, "calendar", src.Name)
			next = append(next, old)
			events += len(old.Events)
		}
	}

	var errs []error
	errMessages := make(map[string]string, len(failures))
	for _, src := range e.opts.Calendars {
		err, failed := failures[src.Name]
		if !failed {
			continue
		}
		errs = append(errs, fmt.Errorf("calendar %q: %w", src.Name, err))
		errMessages[src.Name] = err.Error()
		if e.dispatcher != nil {
			e.dispatcher.ReportSyncError(ctx, dispatch.SyncError{Calendar: src.Name, Err: err, Stack: dispatch.StackOf(err)})
		}
	}

	if !first && e.dispatcher != nil {
		if changed := differ.Diff(prev, next); len(changed) > 0 {
			appLog.Info("sync: changed events", "run_id", runID, "calendars", len(changed))
			e.dispatcher.TriggerChangedCalendars(ctx, changed)
		}
		if added := differ.Added(prev, next); len(added) > 0 {
			appLog.Info("sync: added events", "run_id", runID, "calendars", len(added))
			e.dispatcher.TriggerEvents(ctx, dispatch.AddedTriggers(added))
		}
	}

	e.mu.Lock()
	e.calendars = next
	e.status = Status{
		RunID:     runID,
		LastSync:  started,
		Synced:    true,
		Calendars: len(next),
		Events:    events,
		Errors:    errMessages,
	}
	e.mu.Unlock()

	appLog.Info("sync done", "run_id", runID, "calendars", len(next), "events", events, "failed", len(errs))
	return errors.Join(errs...)
}

// Tick fires the time-based triggers due now against the current snapshot.
func (e *Engine) Tick(ctx context.Context) {
	if e.dispatcher == nil {
		return
	}
	triggers := dispatch.EventsToTrigger(e.dispatcher.Now(), e.Calendars())
	if len(triggers) == 0 {
		return
	}
	appLog.Debug("tick: dispatching", "triggers", len(triggers))
	e.dispatcher.TriggerEvents(ctx, triggers)
}

// Calendars returns a copy of the current snapshot.
func (e *Engine) Calendars() []model.Calendar {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return model.CloneCalendars(e.calendars)
}

func (e *Engine) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s := e.status
	if s.Errors != nil {
		errs := make(map[string]string, len(s.Errors))
		for k, v := range s.Errors {
			errs[k] = v
		}
		s.Errors = errs
	}
	return s
}

// Evaluator returns predicates bound to the engine's clock and zone.
func (e *Engine) Evaluator() conditions.Evaluator {
	return conditions.Evaluator{Clock: e.opts.Clock, Timezone: e.opts.Timezone}
}
