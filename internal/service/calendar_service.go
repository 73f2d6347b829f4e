package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/tazhate/calassist/internal/clients/caldav"
	"github.com/tazhate/calassist/internal/domain"
)

const noWritableCalendar = "No writable calendar found"

// CalDAVClient is the part of caldav.Client the service uses
type CalDAVClient interface {
	DiscoverCalendarHome(ctx context.Context, creds caldav.Credentials) caldav.CalendarHome
	ListCollections(ctx context.Context, homeURL string, creds caldav.Credentials) ([]caldav.Calendar, error)
	QueryEvents(ctx context.Context, urls []string, start, end time.Time, creds caldav.Credentials) ([]caldav.Event, []error)
	CreateEvent(ctx context.Context, collectionURL, icalText, uid string, creds caldav.Credentials) error
}

// Journal records events created through the assistant
type Journal interface {
	RecordCreatedEvent(e *domain.CreatedEvent) error
}

// SyncState is the outcome of one Sync call
type SyncState string

const (
	SyncSucceeded SyncState = "succeeded"
	SyncPartial   SyncState = "partial"
	SyncFailed    SyncState = "failed"
)

// SyncResult is what Sync found, including the failures ListEvents hides
type SyncResult struct {
	Events      []caldav.Event
	State       SyncState
	Home        caldav.CalendarHome
	Collections int
	Warnings    []error
}

// AddEventResult is the typed outcome of AddEvent
type AddEventResult struct {
	Success     bool   `json:"success"`
	Error       string `json:"error,omitempty"`
	UID         string `json:"uid,omitempty"`
	CalendarURL string `json:"calendar_url,omitempty"`
}

// CalendarService is the entry point for everything calendar related.
// It rediscovers the calendar collections on every call.
type CalendarService struct {
	client   CalDAVClient
	creds    caldav.Credentials
	timezone *time.Location
	now      func() time.Time
	journal  Journal
	log      zerolog.Logger
}

// Option configures a CalendarService
type Option func(*CalendarService)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(s *CalendarService) {
		if now != nil {
			s.now = now
		}
	}
}

// WithJournal records successfully created events
func WithJournal(j Journal) Option {
	return func(s *CalendarService) {
		s.journal = j
	}
}

// WithLogger sets the logger
func WithLogger(l zerolog.Logger) Option {
	return func(s *CalendarService) {
		s.log = l.With().Str("component", "calendar").Logger()
	}
}

// NewCalendarService creates a new calendar service
func NewCalendarService(client CalDAVClient, creds caldav.Credentials, tz *time.Location, opts ...Option) *CalendarService {
	if tz == nil {
		tz = time.UTC
	}
	s := &CalendarService{
		client:   client,
		creds:    creds,
		timezone: tz,
		now:      time.Now,
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IsConfigured returns true if CalDAV credentials are usable
func (s *CalendarService) IsConfigured() bool {
	return s.creds.Validate() == nil
}

// Timezone returns the display timezone
func (s *CalendarService) Timezone() *time.Location {
	return s.timezone
}

// ListEvents returns the events of the period sorted by start. It never
// fails: on total failure the list is empty and the cause is logged.
func (s *CalendarService) ListEvents(ctx context.Context, period domain.Period) []caldav.Event {
	return s.Sync(ctx, period).Events
}

// Sync runs discovery and the query for period and reports how it went
func (s *CalendarService) Sync(ctx context.Context, period domain.Period) SyncResult {
	start, end := period.Window(s.now(), s.timezone)
	log := s.log.With().Str("period", string(period)).Logger()

	res := SyncResult{Events: []caldav.Event{}, State: SyncFailed}

	if err := s.creds.Validate(); err != nil {
		log.Warn().Err(err).Msg("calendar sync skipped")
		res.Warnings = append(res.Warnings, err)
		return res
	}

	res.Home = s.client.DiscoverCalendarHome(ctx, s.creds)

	var urls []string
	cals, err := s.client.ListCollections(ctx, res.Home.URL, s.creds)
	switch {
	case err != nil:
		log.Warn().Err(err).Str("home", res.Home.URL).Msg("listing collections failed, querying calendar home")
		res.Warnings = append(res.Warnings, err)
		urls = []string{res.Home.URL}
	case len(cals) == 0:
		urls = []string{res.Home.URL}
	default:
		for _, c := range cals {
			urls = append(urls, c.URL)
		}
	}
	res.Collections = len(urls)

	events, errs := s.client.QueryEvents(ctx, urls, start, end, s.creds)
	res.Warnings = append(res.Warnings, errs...)

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Start.Before(events[j].Start)
	})
	if events != nil {
		res.Events = events
	}

	switch {
	case len(errs) >= len(urls):
		res.State = SyncFailed
	case len(res.Warnings) > 0:
		res.State = SyncPartial
	default:
		res.State = SyncSucceeded
	}

	log.Info().
		Str("state", string(res.State)).
		Str("home_source", string(res.Home.Source)).
		Int("collections", len(urls)).
		Int("events", len(res.Events)).
		Msg("calendar sync finished")

	return res
}

type actorKey struct{}

// ContextWithActor tags ctx with the Telegram user creating an event, for
// the journal.
func ContextWithActor(ctx context.Context, telegramID int64) context.Context {
	return context.WithValue(ctx, actorKey{}, telegramID)
}

// ActorFromContext returns the Telegram user set by ContextWithActor, or 0
func ActorFromContext(ctx context.Context) int64 {
	id, _ := ctx.Value(actorKey{}).(int64)
	return id
}

// AddEvent validates ev and uploads it to the preferred writable calendar.
// It never panics and never returns an error: every failure is described
// in the result.
func (s *CalendarService) AddEvent(ctx context.Context, ev caldav.NewEvent) (res AddEventResult) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Msg("add event panicked")
			res = AddEventResult{Error: fmt.Sprintf("internal error: %v", r)}
		}
	}()

	if strings.TrimSpace(ev.Title) != "" {
		ev.Title = strings.TrimSpace(ev.Title)
	}
	if err := ev.Validate(); err != nil {
		return AddEventResult{Error: err.Error()}
	}
	if err := s.creds.Validate(); err != nil {
		s.log.Warn().Err(err).Msg("add event skipped")
		return AddEventResult{Error: "Calendar is not configured"}
	}

	home := s.client.DiscoverCalendarHome(ctx, s.creds)
	cals, err := s.client.ListCollections(ctx, home.URL, s.creds)
	if err != nil {
		s.log.Warn().Err(err).Str("home", home.URL).Msg("listing collections failed")
		return AddEventResult{Error: noWritableCalendar}
	}

	target, ok := s.pickTarget(cals)
	if !ok {
		return AddEventResult{Error: noWritableCalendar}
	}

	now := s.now()
	uid := caldav.NewUID(now)
	text := caldav.EncodeEvent(ev, uid, now)

	if err := s.client.CreateEvent(ctx, target.URL, text, uid, s.creds); err != nil {
		var werr *caldav.WriteError
		if errors.As(err, &werr) {
			return AddEventResult{Error: werr.Error(), CalendarURL: target.URL}
		}
		return AddEventResult{Error: "Failed to add event: " + err.Error(), CalendarURL: target.URL}
	}

	s.log.Info().Str("uid", uid).Str("calendar", target.URL).Msg("event added")

	if s.journal != nil {
		rec := &domain.CreatedEvent{
			UID:         uid,
			Title:       ev.Title,
			StartTime:   ev.Start,
			EndTime:     ev.End,
			Location:    ev.Location,
			CalendarURL: target.URL,
			CreatedBy:   ActorFromContext(ctx),
		}
		if err := s.journal.RecordCreatedEvent(rec); err != nil {
			s.log.Error().Err(err).Str("uid", uid).Msg("journal write failed")
		}
	}

	return AddEventResult{Success: true, UID: uid, CalendarURL: target.URL}
}

// pickTarget returns the first writable calendar, or the first special one
// when nothing else exists.
func (s *CalendarService) pickTarget(cals []caldav.Calendar) (caldav.Calendar, bool) {
	for _, c := range cals {
		if !c.Special {
			return c, true
		}
	}
	if len(cals) > 0 {
		s.log.Warn().Str("calendar", cals[0].URL).Msg("only special calendars found, writing to the first one")
		return cals[0], true
	}
	return caldav.Calendar{}, false
}

// FormatEventList formats events for display, grouped by day
func (s *CalendarService) FormatEventList(events []caldav.Event) string {
	if len(events) == 0 {
		return "Нет событий"
	}

	var sb strings.Builder
	var currentDate string

	for _, e := range events {
		start := e.Start.In(s.timezone)
		eventDate := start.Format("02.01")

		// Add date header if changed
		if eventDate != currentDate {
			if currentDate != "" {
				sb.WriteString("\n")
			}
			sb.WriteString(fmt.Sprintf("📅 %s, %s:\n", eventDate, russianWeekday(start.Weekday())))
			currentDate = eventDate
		}

		var line string
		if e.AllDay {
			line = fmt.Sprintf("  🗓 %s", e.Title)
		} else {
			line = fmt.Sprintf("  %s — %s", s.formatTime(e), e.Title)
		}
		if e.Location != "" {
			line += fmt.Sprintf(" 📍%s", e.Location)
		}

		sb.WriteString(line + "\n")
	}

	return sb.String()
}

// FormatBriefing formats one day's events for a scheduled briefing. It
// returns "" when there is nothing to report.
func (s *CalendarService) FormatBriefing(heading string, events []caldav.Event) string {
	if len(events) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString(heading + "\n")

	for _, e := range events {
		var line string
		if e.AllDay {
			line = fmt.Sprintf("• %s (весь день)", e.Title)
		} else {
			line = fmt.Sprintf("• %s — %s", e.Start.In(s.timezone).Format("15:04"), e.Title)
		}
		if e.Location != "" {
			line += fmt.Sprintf(" 📍%s", e.Location)
		}
		sb.WriteString(line + "\n")
	}

	return sb.String()
}

func (s *CalendarService) formatTime(e caldav.Event) string {
	start := e.Start.In(s.timezone).Format("15:04")
	if !e.HasEnd() {
		return start
	}
	return start + "-" + e.End.In(s.timezone).Format("15:04")
}

// russianWeekday returns Russian weekday name
func russianWeekday(wd time.Weekday) string {
	days := []string{"воскресенье", "понедельник", "вторник", "среда", "четверг", "пятница", "суббота"}
	return days[wd]
}
