package caldav

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/emersion/go-ical"
)

const (
	maxErrorDetail = 500
	noErrorDetail  = "No error details provided by server"
)

// CreateEvent uploads icalText as a new resource named after uid. The PUT
// carries If-None-Match: * so an existing resource is never overwritten,
// and it is never retried.
func (c *Client) CreateEvent(ctx context.Context, collectionURL, icalText, uid string, creds Credentials) error {
	if err := creds.Validate(); err != nil {
		return err
	}

	payload := normalizeCRLF(icalText)
	if err := checkPayload(payload, uid); err != nil {
		return fmt.Errorf("caldav: invalid calendar payload: %w", err)
	}

	target, err := resolveURL(ensureSlash(collectionURL), safeFilename(uid)+".ics")
	if err != nil {
		return fmt.Errorf("caldav: build resource url: %w", err)
	}

	resp, err := c.do(ctx, creds, request{
		method: http.MethodPut,
		url:    target,
		body:   []byte(payload),
		header: map[string]string{
			"Content-Type":  "text/calendar; charset=utf-8",
			"If-None-Match": "*",
		},
	})
	if err != nil {
		return fmt.Errorf("caldav: put %s: %w", target, err)
	}

	switch resp.Status {
	case http.StatusOK, http.StatusCreated, http.StatusNoContent:
		c.log.Info().Str("resource", target).Msg("event created")
		return nil
	}

	werr := &WriteError{
		Status:     resp.Status,
		StatusText: resp.StatusText,
		Detail:     writeDetail(resp.Body),
	}
	c.log.Warn().Int("status", resp.Status).Str("resource", target).Str("detail", werr.Detail).Msg("event upload rejected")
	return werr
}

// checkPayload makes sure the payload is one VCALENDAR holding exactly one
// VEVENT with the given UID.
func checkPayload(payload, uid string) error {
	cal, err := ical.NewDecoder(strings.NewReader(payload)).Decode()
	if err != nil {
		return err
	}

	events := cal.Events()
	if len(events) != 1 {
		return fmt.Errorf("want 1 VEVENT, got %d", len(events))
	}

	got, err := events[0].Props.Text(ical.PropUID)
	if err != nil {
		return err
	}
	if got != uid {
		return errors.New("UID does not match resource name")
	}
	return nil
}

// safeFilename maps a UID onto [A-Za-z0-9_-]
func safeFilename(uid string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '-'
	}, uid)
}

func normalizeCRLF(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return strings.ReplaceAll(s, "\n", "\r\n")
}

func ensureSlash(u string) string {
	if strings.HasSuffix(u, "/") {
		return u
	}
	return u + "/"
}

func writeDetail(body []byte) string {
	if msg := errorMessage(body); msg != "" {
		return msg
	}

	s := strings.TrimSpace(string(body))
	if s == "" {
		return noErrorDetail
	}
	if len(s) > maxErrorDetail {
		cut := maxErrorDetail
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut]
	}
	return s
}
