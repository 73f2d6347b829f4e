package caldav

import (
	"errors"
	"fmt"
)

// ErrNotConfigured is returned before any network call when credentials
// are missing or unusable.
var ErrNotConfigured = errors.New("caldav: credentials not configured")

// DiscoveryError describes a failed discovery step.
type DiscoveryError struct {
	Step   string // principal, home-set or collections
	URL    string
	Status int // 0 when the request itself failed
	Err    error
}

func (e *DiscoveryError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("caldav: discover %s at %s: %v", e.Step, e.URL, e.Err)
	case e.Status != 0:
		return fmt.Sprintf("caldav: discover %s at %s: status %d", e.Step, e.URL, e.Status)
	default:
		return fmt.Sprintf("caldav: discover %s at %s: no href in response", e.Step, e.URL)
	}
}

func (e *DiscoveryError) Unwrap() error { return e.Err }

// CollectionQueryError describes one collection whose REPORT failed.
type CollectionQueryError struct {
	URL    string
	Status int
	Err    error
}

func (e *CollectionQueryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("caldav: query %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("caldav: query %s: status %d", e.URL, e.Status)
}

func (e *CollectionQueryError) Unwrap() error { return e.Err }

// ParseError describes a VEVENT that was dropped while decoding.
type ParseError struct {
	Line     int
	Property string
	Err      error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("ical: line %d: %s: %v", e.Line, e.Property, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ValidationError is a local precondition failure of a NewEvent.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid event: %s %s", e.Field, e.Reason)
}

// WriteError is returned when the server refused a PUT.
type WriteError struct {
	Status     int
	StatusText string
	Detail     string
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("Failed to add event: %d %s. %s", e.Status, e.StatusText, e.Detail)
}
