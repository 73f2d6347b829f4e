package caldav

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"
)

var (
	windowStart = time.Date(2024, 1, 16, 0, 0, 0, 0, time.UTC)
	windowEnd   = time.Date(2024, 1, 17, 0, 0, 0, 0, time.UTC)
)

func reportBody(href, calendarData string) string {
	return multistatus(`<d:response><d:href>` + href + `</d:href><d:propstat><d:prop>` +
		`<d:getetag>"1"</d:getetag><cal:calendar-data>` + calendarData + `</cal:calendar-data>` +
		`</d:prop><d:status>HTTP/1.1 200 OK</d:status></d:propstat></d:response>`)
}

func TestQueryEventsPartialFailure(t *testing.T) {
	s := newDAVServer(t)
	s.reply("REPORT", "/cal/a/", http.StatusMultiStatus, reportBody("/cal/a/1.ics", vcalendar(vevent("a1", "Standup", "20240116T090000Z"))))
	s.reply("REPORT", "/cal/b/", http.StatusInternalServerError, "")
	s.reply("REPORT", "/cal/c/", http.StatusMultiStatus, reportBody("/cal/c/1.ics", vcalendar(
		vevent("c1", "Lunch", "20240116T120000Z"),
		vevent("c2", "Yesterday", "20240115T120000Z"),
	)))

	urls := []string{s.URL + "/cal/a/", s.URL + "/cal/b/", s.URL + "/cal/c/"}
	events, errs := newTestClient(s).QueryEvents(context.Background(), urls, windowStart, windowEnd, s.creds())

	if len(events) != 2 {
		t.Fatalf("got %d events, want 2: %+v", len(events), events)
	}
	if events[0].UID != "a1" || events[1].UID != "c1" {
		t.Errorf("events out of collection order: %s, %s", events[0].UID, events[1].UID)
	}

	if len(errs) != 1 {
		t.Fatalf("got %d errors, want 1", len(errs))
	}
	var qerr *CollectionQueryError
	if !errors.As(errs[0], &qerr) || qerr.Status != http.StatusInternalServerError || qerr.URL != s.URL+"/cal/b/" {
		t.Errorf("err = %v, want CollectionQueryError for /cal/b/ with 500", errs[0])
	}
}

func TestQueryEventsWindowIsHalfOpen(t *testing.T) {
	s := newDAVServer(t)
	s.reply("REPORT", "/cal/a/", http.StatusMultiStatus, reportBody("/cal/a/1.ics", vcalendar(
		vevent("before", "Late", "20240115T235900Z"),
		vevent("first", "Midnight", "20240116T000000Z"),
		vevent("last", "Almost", "20240116T235900Z"),
		vevent("after", "Next", "20240117T000000Z"),
	)))

	events, errs := newTestClient(s).QueryEvents(context.Background(), []string{s.URL + "/cal/a/"}, windowStart, windowEnd, s.creds())
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(events) != 2 || events[0].UID != "first" || events[1].UID != "last" {
		t.Errorf("got %+v, want first and last", events)
	}
}

func TestQueryEventsRequest(t *testing.T) {
	s := newDAVServer(t)
	s.reply("REPORT", "/cal/a/", http.StatusMultiStatus, multistatus())

	_, errs := newTestClient(s).QueryEvents(context.Background(), []string{s.URL + "/cal/a/"}, windowStart, windowEnd, s.creds())
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}

	req := s.last("REPORT")
	if req.Depth != "1" {
		t.Errorf("Depth = %q, want 1", req.Depth)
	}
	for _, want := range []string{`start="20240116T000000Z"`, `end="20240117T000000Z"`, `name="VEVENT"`, "calendar-data"} {
		if !strings.Contains(req.Body, want) {
			t.Errorf("REPORT body missing %s:\n%s", want, req.Body)
		}
	}
	if !strings.HasPrefix(req.Header.Get("Content-Type"), "application/xml") {
		t.Errorf("Content-Type = %q", req.Header.Get("Content-Type"))
	}
}

func TestQueryEventsCalendarDataVariants(t *testing.T) {
	testCases := []struct {
		name string
		body string
		want string
	}{
		{
			name: "escaped entities",
			body: reportBody("/cal/a/1.ics", strings.ReplaceAll(vcalendar(vevent("x", "Tom & Jerry", "20240116T090000Z")), "&", "&amp;")),
			want: "Tom & Jerry",
		},
		{
			name: "literal entity text in summary",
			body: reportBody("/cal/a/1.ics", strings.ReplaceAll(vcalendar(vevent("x", "if a &lt; b", "20240116T090000Z")), "&", "&amp;")),
			want: "if a &lt; b",
		},
		{
			name: "cdata and indentation",
			body: reportBody("/cal/a/1.ics", "<![CDATA[\n      BEGIN:VCALENDAR\n      BEGIN:VEVENT\n      SUMMARY:Indented <b>\n      DTSTART:20240116T090000Z\n      END:VEVENT\n      END:VCALENDAR\n    ]]>"),
			want: "Indented <b>",
		},
		{
			name: "default namespace",
			body: `<multistatus xmlns="DAV:"><response><href>/cal/a/1.ics</href><propstat><prop>` +
				`<calendar-data xmlns="urn:ietf:params:xml:ns:caldav">` + vcalendar(vevent("x", "Plain", "20240116T090000Z")) + `</calendar-data>` +
				`</prop></propstat></response></multistatus>`,
			want: "Plain",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			s := newDAVServer(t)
			s.reply("REPORT", "/cal/a/", http.StatusMultiStatus, tc.body)

			events, errs := newTestClient(s).QueryEvents(context.Background(), []string{s.URL + "/cal/a/"}, windowStart, windowEnd, s.creds())
			if len(errs) != 0 {
				t.Fatalf("unexpected errors: %v", errs)
			}
			if len(events) != 1 || events[0].Title != tc.want {
				t.Errorf("got %+v, want one event titled %q", events, tc.want)
			}
		})
	}
}

func TestQueryEventsHrefFallback(t *testing.T) {
	s := newDAVServer(t)
	s.reply("REPORT", "/cal/a/", http.StatusMultiStatus, multistatus(
		`<d:response><d:href>/cal/a/1.ics</d:href><d:propstat><d:prop><d:getetag>"1"</d:getetag></d:prop></d:propstat></d:response>`,
		`<d:response><d:href>2.ics</d:href><d:propstat><d:prop><d:getetag>"2"</d:getetag></d:prop></d:propstat></d:response>`,
		`<d:response><d:href>/cal/a/3.ics</d:href><d:propstat><d:prop><d:getetag>"3"</d:getetag></d:prop></d:propstat></d:response>`,
	))
	s.reply(http.MethodGet, "/cal/a/1.ics", http.StatusOK, vcalendar(vevent("one", "One", "20240116T090000Z")))
	s.reply(http.MethodGet, "/cal/a/2.ics", http.StatusOK, vcalendar(vevent("two", "Two", "20240116T100000Z")))
	s.reply(http.MethodGet, "/cal/a/3.ics", http.StatusNotFound, "")

	events, errs := newTestClient(s).QueryEvents(context.Background(), []string{s.URL + "/cal/a/"}, windowStart, windowEnd, s.creds())
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(events) != 2 || events[0].UID != "one" || events[1].UID != "two" {
		t.Errorf("got %+v, want one and two", events)
	}
	if n := s.count(http.MethodGet, ""); n != 3 {
		t.Errorf("got %d GETs, want 3", n)
	}
}

func TestQueryEventsCancelledContext(t *testing.T) {
	s := newDAVServer(t)
	s.reply("REPORT", "/cal/a/", http.StatusMultiStatus, multistatus())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	events, errs := newTestClient(s).QueryEvents(ctx, []string{s.URL + "/cal/a/"}, windowStart, windowEnd, s.creds())
	if len(events) != 0 || len(errs) != 1 {
		t.Fatalf("got %d events and %d errors, want 0 and 1", len(events), len(errs))
	}
	if !errors.Is(errs[0], context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", errs[0])
	}
}

func TestDedent(t *testing.T) {
	in := "\n    BEGIN:VEVENT\n    SUMMARY:Long\n     folded\n    END:VEVENT\n  "
	want := "BEGIN:VEVENT\nSUMMARY:Long\n folded\nEND:VEVENT\n"

	if got := dedent(in); got != want {
		t.Errorf("dedent = %q, want %q", got, want)
	}
}
