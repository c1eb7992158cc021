package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"calwatch/internal/conditions"
	"calwatch/internal/config"
	"calwatch/internal/engine"
	"calwatch/internal/filter"
	appLog "calwatch/internal/log"
	"calwatch/internal/model"
)

// Snapshots is what the API reads from. *engine.Engine implements it.
type Snapshots interface {
	Calendars() []model.Calendar
	Status() engine.Status
	Evaluator() conditions.Evaluator
}

// HostStatus reports on the trigger host. *redishost.Host implements it.
type HostStatus interface {
	Health(ctx context.Context) error
	Hits(ctx context.Context) (map[string]string, error)
}

// Server provides read-only HTTP APIs over the current snapshot.
type Server struct {
	cfg    *config.Config
	source Snapshots
	host   HostStatus
	router *mux.Router
}

// NewServer constructs a new Server. host may be nil, in which case
// /api/status reports the engine only.
func NewServer(cfg *config.Config, source Snapshots, host HostStatus) *Server {
	s := &Server{
		cfg:    cfg,
		source: source,
		host:   host,
		router: mux.NewRouter(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.router)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty credentials disable auth.
	if s.cfg.BasicAuth.Username == "" || s.cfg.BasicAuth.Password == "" {
		return false
	}
	return true
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="calwatch", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Run serves on cfg.Listen until ctx is canceled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) registerRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/calendars", s.handleCalendars).Methods(http.MethodGet)
	api.HandleFunc("/events", s.handleEvents).Methods(http.MethodGet)
	api.HandleFunc("/conditions", s.handleConditions).Methods(http.MethodGet)
	api.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// calendarSummary is the JSON shape of one entry of /api/calendars.
type calendarSummary struct {
	Name   string `json:"name"`
	Events int    `json:"events"`
}

func (s *Server) handleCalendars(w http.ResponseWriter, _ *http.Request) {
	cals := s.source.Calendars()
	out := make([]calendarSummary, 0, len(cals))
	for _, c := range cals {
		out = append(out, calendarSummary{Name: c.Name, Events: len(c.Events)})
	}
	writeJSON(w, http.StatusOK, out)
}

// eventDTO is a JSON-friendly view of a snapshot event.
type eventDTO struct {
	UID         string    `json:"uid"`
	Summary     string    `json:"summary"`
	Description string    `json:"description"`
	Location    string    `json:"location"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	DateType    string    `json:"date_type"`
	FullDay     bool      `json:"full_day"`
	FreeBusy    string    `json:"freebusy,omitempty"`
	MeetingURL  string    `json:"meeting_url,omitempty"`
}

type calendarDTO struct {
	Name   string     `json:"name"`
	Events []eventDTO `json:"events"`
}

// handleEvents returns the snapshot narrowed by the optional filters.
//
// GET /api/events?calendar=Work&field=summary&matcher=contains&query=sync&uid=abc
//   - calendar: only the calendar with this name
//   - uid:      only events with this UID
//   - query:    only events whose field (default summary) matches query
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	cals := s.source.Calendars()

	if name := q.Get("calendar"); name != "" {
		cals = filter.FilterByCalendar(cals, name)
	}
	if uid := q.Get("uid"); uid != "" {
		cals = filter.FilterByUID(cals, uid)
	}
	if query := q.Get("query"); query != "" {
		field := filter.FieldSummary
		if f := q.Get("field"); f != "" {
			parsed, err := filter.ParseField(f)
			if err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			field = parsed
		}
		matcher, err := filter.ParseMatcher(q.Get("matcher"))
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		cals = filter.FilterByProperty(cals, query, field, matcher)
	}

	out := make([]calendarDTO, 0, len(cals))
	for _, c := range cals {
		events := make([]eventDTO, 0, len(c.Events))
		for _, e := range c.Events {
			events = append(events, toEventDTO(e))
		}
		out = append(out, calendarDTO{Name: c.Name, Events: events})
	}
	writeJSON(w, http.StatusOK, out)
}

func toEventDTO(e model.CalendarEvent) eventDTO {
	return eventDTO{
		UID:         e.UID,
		Summary:     e.Summary,
		Description: e.Description,
		Location:    e.Location,
		Start:       e.Start.Instant(),
		End:         e.End.Instant(),
		DateType:    string(e.DateType),
		FullDay:     e.FullDay,
		FreeBusy:    e.FreeBusy,
		MeetingURL:  e.MeetingURL,
	}
}

type conditionsResponse struct {
	Calendar string  `json:"calendar,omitempty"`
	When     float64 `json:"when"`
	Ongoing  bool    `json:"ongoing"`
	StartsIn bool    `json:"starts_in"`
	EndsIn   bool    `json:"ends_in"`
}

// handleConditions evaluates the time predicates over the snapshot.
//
// GET /api/conditions?calendar=Work&when=10
//   - when: minutes for starts_in / ends_in (default 10)
func (s *Server) handleConditions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	when := 10.0
	if v := q.Get("when"); v != "" {
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "when must be a non-negative number of minutes")
			return
		}
		when = parsed
	}

	cals := s.source.Calendars()
	name := q.Get("calendar")
	if name != "" {
		cals = filter.FilterByCalendar(cals, name)
	}

	var events []model.CalendarEvent
	for _, c := range cals {
		events = append(events, c.Events...)
	}

	eval := s.source.Evaluator()
	now := eval.Now()
	writeJSON(w, http.StatusOK, conditionsResponse{
		Calendar: name,
		When:     when,
		Ongoing:  conditions.IsEventOngoing(now, events, "api"),
		StartsIn: conditions.IsEventIn(now, events, when),
		EndsIn:   conditions.WillEventNotIn(now, events, when),
	})
}

type hostStatus struct {
	Healthy bool              `json:"healthy"`
	Error   string            `json:"error,omitempty"`
	Hits    map[string]string `json:"hits,omitempty"`
}

type statusResponse struct {
	engine.Status
	Host *hostStatus `json:"host,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{Status: s.source.Status()}
	if s.host == nil {
		writeJSON(w, http.StatusOK, resp)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	hs := &hostStatus{Healthy: true}
	if err := s.host.Health(ctx); err != nil {
		appLog.Warn("status: trigger host unhealthy", "err", err)
		hs.Healthy = false
		hs.Error = err.Error()
	} else if hits, err := s.host.Hits(ctx); err != nil {
		appLog.Warn("status: failed to read hit counts", "err", err)
		hs.Error = err.Error()
	} else {
		hs.Hits = hits
	}
	resp.Host = hs
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
