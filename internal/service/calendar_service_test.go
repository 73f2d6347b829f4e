package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tazhate/calassist/internal/clients/caldav"
	"github.com/tazhate/calassist/internal/domain"
)

var testCreds = caldav.Credentials{
	ServerURL: "https://caldav.example.com/",
	Username:  "alice@example.com",
	Password:  "secret",
}

// fakeCalDAV records calls and returns canned data
type fakeCalDAV struct {
	home       caldav.CalendarHome
	calendars  []caldav.Calendar
	listErr    error
	events     []caldav.Event
	queryErrs  []error
	createErr  error
	queried    []string
	start, end time.Time
	created    struct {
		url, text, uid string
	}
	calls int
}

func (f *fakeCalDAV) DiscoverCalendarHome(ctx context.Context, creds caldav.Credentials) caldav.CalendarHome {
	f.calls++
	return f.home
}

func (f *fakeCalDAV) ListCollections(ctx context.Context, homeURL string, creds caldav.Credentials) ([]caldav.Calendar, error) {
	f.calls++
	return f.calendars, f.listErr
}

func (f *fakeCalDAV) QueryEvents(ctx context.Context, urls []string, start, end time.Time, creds caldav.Credentials) ([]caldav.Event, []error) {
	f.calls++
	f.queried = urls
	f.start, f.end = start, end
	return f.events, f.queryErrs
}

func (f *fakeCalDAV) CreateEvent(ctx context.Context, collectionURL, icalText, uid string, creds caldav.Credentials) error {
	f.calls++
	f.created.url, f.created.text, f.created.uid = collectionURL, icalText, uid
	return f.createErr
}

type memJournal struct {
	records []*domain.CreatedEvent
	err     error
}

func (j *memJournal) RecordCreatedEvent(e *domain.CreatedEvent) error {
	if j.err != nil {
		return j.err
	}
	j.records = append(j.records, e)
	return nil
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

var home = caldav.CalendarHome{URL: "https://caldav.example.com/12345/calendars/", Source: caldav.HomeDiscovered}

func TestSyncWindowAndOrder(t *testing.T) {
	at := func(h int) time.Time { return time.Date(2024, 1, 16, h, 0, 0, 0, time.UTC) }
	fake := &fakeCalDAV{
		home: home,
		calendars: []caldav.Calendar{
			{URL: home.URL + "home/"},
			{URL: home.URL + "work/"},
		},
		events: []caldav.Event{
			{UID: "c", Title: "Lunch", Start: at(12)},
			{UID: "a", Title: "Standup", Start: at(9)},
			{UID: "b", Title: "Gym", Start: at(9)},
		},
	}
	s := NewCalendarService(fake, testCreds, time.UTC, WithClock(fixedClock(time.Date(2024, 1, 16, 15, 4, 0, 0, time.UTC))))

	res := s.Sync(context.Background(), domain.PeriodToday)

	if res.State != SyncSucceeded {
		t.Errorf("State = %s, want succeeded", res.State)
	}
	if !fake.start.Equal(at(0)) || !fake.end.Equal(time.Date(2024, 1, 17, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("window = [%v, %v)", fake.start, fake.end)
	}
	if len(fake.queried) != 2 {
		t.Errorf("queried %v", fake.queried)
	}

	var got []string
	for _, e := range res.Events {
		got = append(got, e.UID)
	}
	if strings.Join(got, ",") != "a,b,c" {
		t.Errorf("order = %v, want a,b,c (stable for equal starts)", got)
	}
}

func TestSyncStates(t *testing.T) {
	boom := errors.New("boom")
	cals := []caldav.Calendar{{URL: home.URL + "a/"}, {URL: home.URL + "b/"}}

	testCases := []struct {
		name      string
		fake      *fakeCalDAV
		want      SyncState
		wantURLs  []string
		wantWarns int
	}{
		{
			name:      "one collection failed",
			fake:      &fakeCalDAV{home: home, calendars: cals, events: []caldav.Event{{UID: "x"}}, queryErrs: []error{boom}},
			want:      SyncPartial,
			wantURLs:  []string{home.URL + "a/", home.URL + "b/"},
			wantWarns: 1,
		},
		{
			name:      "all collections failed",
			fake:      &fakeCalDAV{home: home, calendars: cals, queryErrs: []error{boom, boom}},
			want:      SyncFailed,
			wantURLs:  []string{home.URL + "a/", home.URL + "b/"},
			wantWarns: 2,
		},
		{
			name:      "listing failed queries home",
			fake:      &fakeCalDAV{home: home, listErr: boom},
			want:      SyncPartial,
			wantURLs:  []string{home.URL},
			wantWarns: 1,
		},
		{
			name:     "no collections queries home",
			fake:     &fakeCalDAV{home: home},
			want:     SyncSucceeded,
			wantURLs: []string{home.URL},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			s := NewCalendarService(tc.fake, testCreds, time.UTC)
			res := s.Sync(context.Background(), domain.PeriodWeek)

			if res.State != tc.want {
				t.Errorf("State = %s, want %s", res.State, tc.want)
			}
			if strings.Join(tc.fake.queried, " ") != strings.Join(tc.wantURLs, " ") {
				t.Errorf("queried %v, want %v", tc.fake.queried, tc.wantURLs)
			}
			if len(res.Warnings) != tc.wantWarns {
				t.Errorf("warnings = %v", res.Warnings)
			}
			if res.Events == nil {
				t.Error("Events is nil")
			}
		})
	}
}

func TestListEventsNotConfigured(t *testing.T) {
	fake := &fakeCalDAV{}
	s := NewCalendarService(fake, caldav.Credentials{}, time.UTC)

	events := s.ListEvents(context.Background(), domain.PeriodToday)
	if events == nil || len(events) != 0 {
		t.Errorf("events = %v, want empty", events)
	}
	if fake.calls != 0 {
		t.Errorf("client called %d times", fake.calls)
	}
	if s.IsConfigured() {
		t.Error("IsConfigured() = true")
	}
}

func TestAddEvent(t *testing.T) {
	now := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	ev := caldav.NewEvent{
		Title:    "  Dentist ",
		Start:    time.Date(2024, 1, 16, 14, 0, 0, 0, time.UTC),
		End:      time.Date(2024, 1, 16, 15, 0, 0, 0, time.UTC),
		Location: "Clinic",
	}
	fake := &fakeCalDAV{
		home: home,
		calendars: []caldav.Calendar{
			{URL: home.URL + "inbox/", Special: true},
			{URL: home.URL + "home/"},
		},
	}
	journal := &memJournal{}
	s := NewCalendarService(fake, testCreds, time.UTC, WithClock(fixedClock(now)), WithJournal(journal))

	res := s.AddEvent(ContextWithActor(context.Background(), 42), ev)

	if !res.Success || res.Error != "" {
		t.Fatalf("AddEvent = %+v", res)
	}
	if res.CalendarURL != home.URL+"home/" || fake.created.url != res.CalendarURL {
		t.Errorf("calendar = %q, created at %q", res.CalendarURL, fake.created.url)
	}
	if !strings.HasSuffix(res.UID, "@personal-assistant") || fake.created.uid != res.UID {
		t.Errorf("uid = %q", res.UID)
	}
	if !strings.Contains(fake.created.text, "SUMMARY:Dentist\r\n") {
		t.Errorf("payload:\n%s", fake.created.text)
	}

	if len(journal.records) != 1 {
		t.Fatalf("journal = %+v", journal.records)
	}
	rec := journal.records[0]
	if rec.UID != res.UID || rec.CreatedBy != 42 || rec.Title != "Dentist" {
		t.Errorf("journal record = %+v", rec)
	}
}

func TestAddEventTargetSelection(t *testing.T) {
	ev := caldav.NewEvent{
		Title: "Call",
		Start: time.Date(2024, 1, 16, 14, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 1, 16, 15, 0, 0, 0, time.UTC),
	}

	testCases := []struct {
		name      string
		fake      *fakeCalDAV
		wantURL   string
		wantError string
	}{
		{
			name:    "only special calendars",
			fake:    &fakeCalDAV{home: home, calendars: []caldav.Calendar{{URL: home.URL + "tasks/", Special: true}}},
			wantURL: home.URL + "tasks/",
		},
		{
			name:      "no calendars",
			fake:      &fakeCalDAV{home: home},
			wantError: "No writable calendar found",
		},
		{
			name:      "listing failed",
			fake:      &fakeCalDAV{home: home, listErr: errors.New("down")},
			wantError: "No writable calendar found",
		},
		{
			name: "server rejected",
			fake: &fakeCalDAV{
				home:      home,
				calendars: []caldav.Calendar{{URL: home.URL + "home/"}},
				createErr: &caldav.WriteError{Status: 403, StatusText: "Forbidden", Detail: "Read-only calendar"},
			},
			wantError: "Failed to add event: 403 Forbidden. Read-only calendar",
		},
		{
			name: "transport failure",
			fake: &fakeCalDAV{
				home:      home,
				calendars: []caldav.Calendar{{URL: home.URL + "home/"}},
				createErr: fmt.Errorf("connection refused"),
			},
			wantError: "Failed to add event: connection refused",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			res := NewCalendarService(tc.fake, testCreds, time.UTC).AddEvent(context.Background(), ev)

			if tc.wantError != "" {
				if res.Success || res.Error != tc.wantError {
					t.Errorf("AddEvent = %+v, want error %q", res, tc.wantError)
				}
				return
			}
			if !res.Success || res.CalendarURL != tc.wantURL {
				t.Errorf("AddEvent = %+v, want success at %s", res, tc.wantURL)
			}
		})
	}
}

func TestAddEventJournalFailureIsIgnored(t *testing.T) {
	fake := &fakeCalDAV{home: home, calendars: []caldav.Calendar{{URL: home.URL + "home/"}}}
	s := NewCalendarService(fake, testCreds, time.UTC, WithJournal(&memJournal{err: errors.New("disk full")}))

	res := s.AddEvent(context.Background(), caldav.NewEvent{
		Title: "Call",
		Start: time.Date(2024, 1, 16, 14, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 1, 16, 15, 0, 0, 0, time.UTC),
	})
	if !res.Success {
		t.Errorf("AddEvent = %+v", res)
	}
}

type countingTransport struct {
	n int32
}

func (c *countingTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	atomic.AddInt32(&c.n, 1)
	return http.DefaultTransport.RoundTrip(r)
}

func TestAddEventValidationMakesNoRequests(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusMultiStatus)
	}))
	defer srv.Close()

	rt := &countingTransport{}
	client := caldav.NewClient(caldav.WithHTTPClient(&http.Client{Transport: rt}))
	creds := caldav.Credentials{ServerURL: srv.URL + "/", Username: "u", Password: "p"}
	s := NewCalendarService(client, creds, time.UTC)

	start := time.Date(2024, 1, 16, 14, 0, 0, 0, time.UTC)
	testCases := []struct {
		name string
		ev   caldav.NewEvent
	}{
		{"empty title", caldav.NewEvent{Title: "   ", Start: start, End: start.Add(time.Hour)}},
		{"end before start", caldav.NewEvent{Title: "x", Start: start, End: start.Add(-time.Hour)}},
		{"end equals start", caldav.NewEvent{Title: "x", Start: start, End: start}},
		{"missing start", caldav.NewEvent{Title: "x", End: start}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			res := s.AddEvent(context.Background(), tc.ev)
			if res.Success || res.Error == "" {
				t.Errorf("AddEvent = %+v, want validation error", res)
			}
		})
	}

	if n := atomic.LoadInt32(&rt.n); n != 0 {
		t.Errorf("%d requests sent, want 0", n)
	}
}

func TestAddEventNotConfigured(t *testing.T) {
	fake := &fakeCalDAV{}
	res := NewCalendarService(fake, caldav.Credentials{ServerURL: "https://x/"}, time.UTC).AddEvent(context.Background(), caldav.NewEvent{
		Title: "Call",
		Start: time.Date(2024, 1, 16, 14, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 1, 16, 15, 0, 0, 0, time.UTC),
	})
	if res.Success || res.Error != "Calendar is not configured" || fake.calls != 0 {
		t.Errorf("AddEvent = %+v, calls = %d", res, fake.calls)
	}
}

func TestFormatEventList(t *testing.T) {
	s := NewCalendarService(&fakeCalDAV{}, testCreds, time.UTC)

	if got := s.FormatEventList(nil); got != "Нет событий" {
		t.Errorf("empty = %q", got)
	}

	events := []caldav.Event{
		{Title: "Standup", Start: time.Date(2024, 1, 16, 9, 0, 0, 0, time.UTC), End: time.Date(2024, 1, 16, 9, 15, 0, 0, time.UTC)},
		{Title: "Holiday", Start: time.Date(2024, 1, 17, 0, 0, 0, 0, time.UTC), AllDay: true, Location: "Home"},
	}
	want := "📅 16.01, вторник:\n" +
		"  09:00-09:15 — Standup\n" +
		"\n" +
		"📅 17.01, среда:\n" +
		"  🗓 Holiday 📍Home\n"
	if got := s.FormatEventList(events); got != want {
		t.Errorf("FormatEventList =\n%s\nwant\n%s", got, want)
	}

	if got := s.FormatBriefing("Сегодня:", nil); got != "" {
		t.Errorf("empty briefing = %q", got)
	}
	if got := s.FormatBriefing("Сегодня:", events[:1]); got != "Сегодня:\n• 09:00 — Standup\n" {
		t.Errorf("briefing = %q", got)
	}
}
