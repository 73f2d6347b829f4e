package caldav

import (
	"net/url"
	"strings"
	"time"
)

// Calendar is a calendar collection found under the calendar home
type Calendar struct {
	URL         string // Absolute collection URL
	DisplayName string
	Special     bool // inbox, outbox, notification or tasks
}

// Event is a VEVENT decoded from a calendar query
type Event struct {
	UID      string
	Title    string
	Date     string // YYYY-MM-DD in the display timezone
	Time     string // HH:MM in the display timezone
	Start    time.Time
	End      time.Time // zero if DTEND was absent
	Location string
	AllDay   bool
}

// HasEnd reports whether the event carried a DTEND
func (e Event) HasEnd() bool {
	return !e.End.IsZero()
}

// NewEvent is the input for creating a calendar resource
type NewEvent struct {
	Title       string
	Start       time.Time
	End         time.Time
	Location    string
	Description string
}

// Validate checks the invariants that must hold before anything is sent
// to the server.
func (e NewEvent) Validate() error {
	if strings.TrimSpace(e.Title) == "" {
		return &ValidationError{Field: "title", Reason: "must not be empty"}
	}
	if e.Start.IsZero() {
		return &ValidationError{Field: "start", Reason: "is required"}
	}
	if e.End.IsZero() {
		return &ValidationError{Field: "end", Reason: "is required"}
	}
	if !e.End.After(e.Start) {
		return &ValidationError{Field: "end", Reason: "must be after start"}
	}
	return nil
}

// Credentials identify a CalDAV account. They are passed into every call
// so one Client can serve several accounts concurrently.
type Credentials struct {
	ServerURL    string
	Username     string
	Password     string
	CalendarName string // Optional: preferred calendar display name
}

// IsConfigured returns true if the credentials are complete
func (c Credentials) IsConfigured() bool {
	return c.ServerURL != "" && c.Username != "" && c.Password != ""
}

// Validate returns ErrNotConfigured when the credentials cannot be used.
func (c Credentials) Validate() error {
	if !c.IsConfigured() {
		return ErrNotConfigured
	}
	u, err := url.Parse(c.ServerURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ErrNotConfigured
	}
	return nil
}

// HomeSource tells how DiscoverCalendarHome arrived at its result.
type HomeSource string

const (
	HomeDiscovered HomeSource = "discovered"
	HomeFallback   HomeSource = "fallback"
	HomeRoot       HomeSource = "root"
)

// CalendarHome is the outcome of calendar home discovery.
type CalendarHome struct {
	URL    string
	Source HomeSource
}
