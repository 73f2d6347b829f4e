package caldav

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	productID    = "-//Personal Assistant//EN"
	uidDomain    = "personal-assistant"
	untitled     = "Untitled Event"
	compactUTC   = "20060102T150405Z"
	maxLineOctet = 75
)

var errMissingStart = errors.New("missing DTSTART")

// DecodeEvents parses every VEVENT in an iCalendar stream. Events without
// a usable DTSTART are dropped; the rest of the stream is still decoded.
// Floating times are interpreted in loc, which is also the timezone of
// the Date and Time display fields.
func DecodeEvents(text string, loc *time.Location) []Event {
	events, _ := decodeEvents(text, loc)
	return events
}

// eventRecord accumulates the properties of one VEVENT
type eventRecord struct {
	line        int
	uid         string
	summary     string
	location    string
	start       string
	startParams map[string]string
	hasStart    bool
	end         string
	endParams   map[string]string
	hasEnd      bool
}

func decodeEvents(text string, loc *time.Location) ([]Event, []*ParseError) {
	if loc == nil {
		loc = time.Local
	}

	var (
		events []Event
		errs   []*ParseError
		cur    *eventRecord
		nested int // depth of components inside the current VEVENT (VALARM)
	)

	for _, cl := range unfoldLines(text) {
		name, params, value, ok := splitContentLine(cl.text)
		if !ok {
			continue
		}
		if name == "BEGIN" || name == "END" {
			value = strings.TrimSpace(value)
		}

		switch name {
		case "BEGIN":
			if cur == nil {
				if strings.EqualFold(value, "VEVENT") {
					cur = &eventRecord{line: cl.num}
				}
				continue
			}
			nested++
		case "END":
			if cur == nil {
				continue
			}
			if nested > 0 {
				nested--
				continue
			}
			if strings.EqualFold(value, "VEVENT") {
				ev, perr := cur.build(loc)
				if perr != nil {
					errs = append(errs, perr)
				} else {
					events = append(events, ev)
				}
				cur = nil
			}
		default:
			if cur == nil || nested > 0 {
				continue
			}
			cur.set(name, params, value)
		}
	}

	return events, errs
}

func (r *eventRecord) set(name string, params map[string]string, value string) {
	switch name {
	case "UID":
		r.uid = value
	case "SUMMARY":
		r.summary = unescapeText(value)
	case "LOCATION":
		r.location = unescapeText(value)
	case "DTSTART":
		r.start, r.startParams, r.hasStart = value, params, true
	case "DTEND":
		r.end, r.endParams, r.hasEnd = value, params, true
	}
}

func (r *eventRecord) build(loc *time.Location) (Event, *ParseError) {
	if !r.hasStart {
		return Event{}, &ParseError{Line: r.line, Property: "DTSTART", Err: errMissingStart}
	}

	start, allDay, err := parseDateProperty(r.start, r.startParams, loc)
	if err != nil {
		return Event{}, &ParseError{Line: r.line, Property: "DTSTART", Err: err}
	}

	ev := Event{
		UID:      r.uid,
		Title:    r.summary,
		Start:    start,
		Location: r.location,
		AllDay:   allDay,
	}
	if strings.TrimSpace(ev.Title) == "" {
		ev.Title = untitled
	}

	// A broken DTEND only loses the end time, not the event.
	if r.hasEnd {
		if end, _, err := parseDateProperty(r.end, r.endParams, loc); err == nil {
			ev.End = end
		}
	}

	local := start.In(loc)
	ev.Date = local.Format("2006-01-02")
	ev.Time = local.Format("15:04")
	return ev, nil
}

func parseDateProperty(value string, params map[string]string, loc *time.Location) (time.Time, bool, error) {
	zone := loc
	if tzid := params["TZID"]; tzid != "" {
		if z, err := time.LoadLocation(tzid); err == nil {
			zone = z
		}
	}

	t, err := parseCompactDateTime(value, zone)
	if err != nil {
		return time.Time{}, false, err
	}

	allDay := strings.EqualFold(params["VALUE"], "DATE") || len(strings.TrimSpace(value)) == 8
	return t, allDay, nil
}

// parseCompactDateTime parses YYYYMMDD and YYYYMMDDTHHMMSS[Z] by fixed
// offsets. A trailing Z means UTC; otherwise the value is floating and is
// placed in loc.
func parseCompactDateTime(value string, loc *time.Location) (time.Time, error) {
	v := strings.TrimSpace(value)
	zone := loc
	if strings.HasSuffix(v, "Z") || strings.HasSuffix(v, "z") {
		v = v[:len(v)-1]
		zone = time.UTC
	}
	if zone == nil {
		zone = time.Local
	}

	if len(v) != 8 && (len(v) != 15 || v[8] != 'T') {
		return time.Time{}, fmt.Errorf("malformed date-time %q", value)
	}

	year, err1 := digits(v[0:4])
	month, err2 := digits(v[4:6])
	day, err3 := digits(v[6:8])
	if err := errors.Join(err1, err2, err3); err != nil {
		return time.Time{}, fmt.Errorf("malformed date %q: %w", value, err)
	}

	var hour, minute, second int
	if len(v) == 15 {
		var err4, err5, err6 error
		hour, err4 = digits(v[9:11])
		minute, err5 = digits(v[11:13])
		second, err6 = digits(v[13:15])
		if err := errors.Join(err4, err5, err6); err != nil {
			return time.Time{}, fmt.Errorf("malformed time %q: %w", value, err)
		}
	}

	if month < 1 || month > 12 || day < 1 || hour > 23 || minute > 59 || second > 59 {
		return time.Time{}, fmt.Errorf("date-time out of range %q", value)
	}

	t := time.Date(year, time.Month(month), day, hour, minute, second, 0, zone)
	if t.Day() != day {
		return time.Time{}, fmt.Errorf("no such day %q", value)
	}
	return t, nil
}

func digits(s string) (int, error) {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, fmt.Errorf("non-digit in %q", s)
		}
	}
	return strconv.Atoi(s)
}

type contentLine struct {
	num  int
	text string
}

// unfoldLines splits on CRLF or LF and joins RFC 5545 continuation lines
// (a single leading space or tab) onto the line before them.
func unfoldLines(text string) []contentLine {
	raw := strings.Split(text, "\n")
	lines := make([]contentLine, 0, len(raw))

	for i, l := range raw {
		l = strings.TrimSuffix(l, "\r")
		if l == "" {
			continue
		}
		if (l[0] == ' ' || l[0] == '\t') && len(lines) > 0 {
			lines[len(lines)-1].text += l[1:]
			continue
		}
		lines = append(lines, contentLine{num: i + 1, text: l})
	}

	return lines
}

// splitContentLine splits "NAME;PARAM=x;PARAM="y:z":value". The value
// starts after the first colon that is not inside a quoted parameter.
func splitContentLine(line string) (name string, params map[string]string, value string, ok bool) {
	i := strings.IndexAny(line, ";:")
	if i <= 0 {
		return "", nil, "", false
	}
	name = strings.ToUpper(strings.TrimSpace(line[:i]))

	for line[i] == ';' {
		i++
		eq := strings.IndexByte(line[i:], '=')
		if eq < 0 {
			return "", nil, "", false
		}
		key := strings.ToUpper(line[i : i+eq])
		i += eq + 1

		var val string
		if i < len(line) && line[i] == '"' {
			end := strings.IndexByte(line[i+1:], '"')
			if end < 0 {
				return "", nil, "", false
			}
			val = line[i+1 : i+1+end]
			i += end + 2
		} else {
			end := strings.IndexAny(line[i:], ";:")
			if end < 0 {
				return "", nil, "", false
			}
			val = line[i : i+end]
			i += end
		}

		if params == nil {
			params = make(map[string]string)
		}
		params[key] = val

		if i >= len(line) {
			return "", nil, "", false
		}
	}

	if line[i] != ':' {
		return "", nil, "", false
	}
	return name, params, line[i+1:], true
}

// EncodeEvent renders a single-event VCALENDAR with CRLF line endings.
// The event must already be valid; an invalid event is a caller bug.
func EncodeEvent(ev NewEvent, uid string, now time.Time) string {
	if err := ev.Validate(); err != nil {
		panic("caldav: EncodeEvent: " + err.Error())
	}

	stamp := formatCompactUTC(now)
	lines := []string{
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:" + productID,
		"CALSCALE:GREGORIAN",
		"METHOD:PUBLISH",
		"BEGIN:VEVENT",
		"UID:" + uid,
		"DTSTAMP:" + stamp,
		"CREATED:" + stamp,
		"DTSTART:" + formatCompactUTC(ev.Start),
		"DTEND:" + formatCompactUTC(ev.End),
		"SUMMARY:" + escapeText(ev.Title),
	}
	if ev.Location != "" {
		lines = append(lines, "LOCATION:"+escapeText(ev.Location))
	}
	if ev.Description != "" {
		lines = append(lines, "DESCRIPTION:"+escapeText(ev.Description))
	}
	lines = append(lines,
		"STATUS:CONFIRMED",
		"SEQUENCE:0",
		"LAST-MODIFIED:"+stamp,
		"END:VEVENT",
		"END:VCALENDAR",
	)

	var sb strings.Builder
	for _, l := range lines {
		sb.WriteString(foldLine(l))
		sb.WriteString("\r\n")
	}
	return sb.String()
}

// NewUID generates a globally unique event identifier
func NewUID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return fmt.Sprintf("%d-%s@%s", now.UnixMilli(), suffix, uidDomain)
}

func formatCompactUTC(t time.Time) string {
	return t.UTC().Format(compactUTC)
}

// escapeText applies RFC 5545 TEXT escaping. Backslash goes first so the
// escapes added afterwards are not doubled.
func escapeText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, ";", `\;`)
	s = strings.ReplaceAll(s, ",", `\,`)
	s = strings.ReplaceAll(s, "\n", `\n`)
	return s
}

func unescapeText(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}

	var sb strings.Builder
	sb.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i+1 == len(s) {
			sb.WriteByte(c)
			continue
		}
		i++
		switch s[i] {
		case 'n', 'N':
			sb.WriteByte('\n')
		case ';', ',', '\\':
			sb.WriteByte(s[i])
		default:
			sb.WriteByte('\\')
			sb.WriteByte(s[i])
		}
	}
	return sb.String()
}

// foldLine splits lines longer than 75 octets without cutting a UTF-8
// sequence. Continuation lines start with a single space.
func foldLine(l string) string {
	if len(l) <= maxLineOctet {
		return l
	}

	var sb strings.Builder
	limit := maxLineOctet
	for len(l) > limit {
		cut := limit
		for cut > 0 && !utf8.RuneStart(l[cut]) {
			cut--
		}
		sb.WriteString(l[:cut])
		sb.WriteString("\r\n ")
		l = l[cut:]
		limit = maxLineOctet - 1
	}
	sb.WriteString(l)
	return sb.String()
}
