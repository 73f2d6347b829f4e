package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/tazhate/calassist/internal/clients/caldav"
	"github.com/tazhate/calassist/internal/domain"
	"github.com/tazhate/calassist/internal/metrics"
	"github.com/tazhate/calassist/internal/service"
)

// Calendar is the calendar facade as seen by the HTTP API
type Calendar interface {
	ListEvents(ctx context.Context, period domain.Period) []caldav.Event
	Sync(ctx context.Context, period domain.Period) service.SyncResult
	AddEvent(ctx context.Context, ev caldav.NewEvent) service.AddEventResult
}

// Journal lists events created through the assistant
type Journal interface {
	ListRecentCreatedEvents(limit int) ([]*domain.CreatedEvent, error)
}

// Options configure the router
type Options struct {
	Calendar Calendar
	Journal  Journal // optional
	Username string
	Password string
	Webhook  http.Handler // Telegram updates, mounted at POST /bot when set
	Logger   zerolog.Logger
}

type server struct {
	calendar Calendar
	journal  Journal
	username string
	password string
	log      zerolog.Logger
}

// EventResponse is one event in GET /api/calendar
type EventResponse struct {
	Title    string `json:"title"`
	Date     string `json:"date"`
	Time     string `json:"time"`
	Location string `json:"location,omitempty"`
}

type eventsResponse struct {
	Events []EventResponse `json:"events"`
}

type syncResponse struct {
	State       string          `json:"state"`
	HomeURL     string          `json:"home_url,omitempty"`
	HomeSource  string          `json:"home_source,omitempty"`
	Collections int             `json:"collections"`
	Warnings    []string        `json:"warnings,omitempty"`
	Events      []EventResponse `json:"events"`
}

type createdEventResponse struct {
	UID         string `json:"uid"`
	Title       string `json:"title"`
	Start       string `json:"start"`
	End         string `json:"end"`
	Location    string `json:"location,omitempty"`
	CalendarURL string `json:"calendar_url"`
	CreatedAt   string `json:"created_at"`
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// NewRouter wires the HTTP API, health, metrics and the optional webhook
func NewRouter(opts Options) http.Handler {
	s := &server{
		calendar: opts.Calendar,
		journal:  opts.Journal,
		username: opts.Username,
		password: opts.Password,
		log:      opts.Logger.With().Str("component", "api").Logger(),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware())

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		metrics.Handler().ServeHTTP(w, r)
	})

	if opts.Webhook != nil {
		r.Method(http.MethodPost, "/bot", opts.Webhook)
	}

	// API disabled if no credentials
	if s.username == "" || s.password == "" {
		s.log.Warn().Msg("API_USERNAME/API_PASSWORD not set, calendar API disabled")
		return r
	}

	r.Route("/api/calendar", func(r chi.Router) {
		r.Use(s.basicAuth)
		r.Get("/", s.listEvents)
		r.Get("/sync", s.syncEvents)
		r.Post("/events", s.addEvent)
		r.Get("/recent", s.recentEvents)
	})

	return r
}

// basicAuth middleware
func (s *server) basicAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if !ok || username != s.username || password != s.password {
			w.Header().Set("WWW-Authenticate", `Basic realm="Calendar Assistant API"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.log.Debug().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func (s *server) jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("encode response")
	}
}

func (s *server) jsonError(w http.ResponseWriter, err string, status int) {
	s.jsonResponse(w, status, errorResponse{Success: false, Error: err})
}

func (s *server) period(w http.ResponseWriter, r *http.Request) (domain.Period, bool) {
	raw := r.URL.Query().Get("period")
	if raw == "" {
		return domain.PeriodToday, true
	}
	p, err := domain.ParsePeriod(raw)
	if err != nil {
		s.jsonError(w, err.Error(), http.StatusBadRequest)
		return "", false
	}
	return p, true
}

// GET /api/calendar?period=today|tomorrow|week
func (s *server) listEvents(w http.ResponseWriter, r *http.Request) {
	p, ok := s.period(w, r)
	if !ok {
		return
	}

	events := s.calendar.ListEvents(r.Context(), p)
	s.jsonResponse(w, http.StatusOK, eventsResponse{Events: toEventResponses(events)})
}

// GET /api/calendar/sync?period= - events plus how the sync went
func (s *server) syncEvents(w http.ResponseWriter, r *http.Request) {
	p, ok := s.period(w, r)
	if !ok {
		return
	}

	res := s.calendar.Sync(r.Context(), p)
	resp := syncResponse{
		State:       string(res.State),
		HomeURL:     res.Home.URL,
		HomeSource:  string(res.Home.Source),
		Collections: res.Collections,
		Events:      toEventResponses(res.Events),
	}
	for _, warn := range res.Warnings {
		resp.Warnings = append(resp.Warnings, warn.Error())
	}
	s.jsonResponse(w, http.StatusOK, resp)
}

// POST /api/calendar/events - create calendar event
func (s *server) addEvent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title       string `json:"title"`
		Start       string `json:"start"` // RFC 3339
		End         string `json:"end"`   // RFC 3339
		Location    string `json:"location"`
		Description string `json:"description"`
	}

	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		s.jsonError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	start, err := time.Parse(time.RFC3339, req.Start)
	if err != nil {
		s.jsonError(w, "Invalid start format (use RFC 3339)", http.StatusBadRequest)
		return
	}
	end, err := time.Parse(time.RFC3339, req.End)
	if err != nil {
		s.jsonError(w, "Invalid end format (use RFC 3339)", http.StatusBadRequest)
		return
	}

	res := s.calendar.AddEvent(r.Context(), caldav.NewEvent{
		Title:       req.Title,
		Start:       start,
		End:         end,
		Location:    req.Location,
		Description: req.Description,
	})
	metrics.EventAdded("api", res.Success)

	s.jsonResponse(w, http.StatusOK, res)
}

// GET /api/calendar/recent?limit=N - events created through the assistant
func (s *server) recentEvents(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		s.jsonError(w, "Journal not configured", http.StatusServiceUnavailable)
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit > 100 {
		limit = 100
	}

	events, err := s.journal.ListRecentCreatedEvents(limit)
	if err != nil {
		s.log.Error().Err(err).Msg("list recent events")
		s.jsonError(w, "Failed to load journal", http.StatusInternalServerError)
		return
	}

	resp := make([]createdEventResponse, 0, len(events))
	for _, e := range events {
		resp = append(resp, createdEventResponse{
			UID:         e.UID,
			Title:       e.Title,
			Start:       e.StartTime.Format(time.RFC3339),
			End:         e.EndTime.Format(time.RFC3339),
			Location:    e.Location,
			CalendarURL: e.CalendarURL,
			CreatedAt:   e.CreatedAt.Format(time.RFC3339),
		})
	}
	s.jsonResponse(w, http.StatusOK, resp)
}

func toEventResponses(events []caldav.Event) []EventResponse {
	resp := make([]EventResponse, 0, len(events))
	for _, e := range events {
		resp = append(resp, EventResponse{
			Title:    e.Title,
			Date:     e.Date,
			Time:     e.Time,
			Location: e.Location,
		})
	}
	return resp
}
