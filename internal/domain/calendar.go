package domain

import (
	"fmt"
	"strings"
	"time"
)

// Period is a named query window relative to the current local day
type Period string

const (
	PeriodToday    Period = "today"
	PeriodTomorrow Period = "tomorrow"
	PeriodWeek     Period = "week"
)

// ParsePeriod accepts today, tomorrow or week (case-insensitive)
func ParsePeriod(s string) (Period, error) {
	switch p := Period(strings.ToLower(strings.TrimSpace(s))); p {
	case PeriodToday, PeriodTomorrow, PeriodWeek:
		return p, nil
	}
	return "", fmt.Errorf("unknown period %q (use today, tomorrow or week)", s)
}

// Window returns the half-open interval [start, end) the period covers,
// computed from local midnight in loc. Days are added on the calendar, so
// a DST change yields a 23 or 25 hour day rather than a shifted boundary.
func (p Period) Window(now time.Time, loc *time.Location) (time.Time, time.Time) {
	if loc == nil {
		loc = time.Local
	}
	local := now.In(loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)

	switch p {
	case PeriodTomorrow:
		return midnight.AddDate(0, 0, 1), midnight.AddDate(0, 0, 2)
	case PeriodWeek:
		return midnight, midnight.AddDate(0, 0, 7)
	default:
		return midnight, midnight.AddDate(0, 0, 1)
	}
}

// Title returns the Russian heading used in chat replies
func (p Period) Title() string {
	switch p {
	case PeriodTomorrow:
		return "завтра"
	case PeriodWeek:
		return "неделю"
	default:
		return "сегодня"
	}
}

// CreatedEvent is a journal record of an event the assistant uploaded
type CreatedEvent struct {
	ID          int64
	UID         string
	Title       string
	StartTime   time.Time
	EndTime     time.Time
	Location    string
	CalendarURL string
	CreatedBy   int64 // Telegram ID, 0 when created through the API
	CreatedAt   time.Time
}

// FormatDateTime returns the start as "02.01 15:04" in loc
func (e *CreatedEvent) FormatDateTime(loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return e.StartTime.In(loc).Format("02.01 15:04")
}
