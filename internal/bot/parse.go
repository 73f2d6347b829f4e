package bot

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tazhate/calassist/internal/clients/caldav"
)

const defaultDuration = time.Hour

var (
	errNoDate  = errors.New("не понял дату: используй сегодня, завтра, ДД.ММ или ГГГГ-ММ-ДД")
	errNoTime  = errors.New("не понял время: используй ЧЧ:ММ или ЧЧ:ММ-ЧЧ:ММ")
	errNoTitle = errors.New("укажи название события")
	errUsage   = errors.New("формат: /add завтра 15:00-16:00 Стоматолог @ Клиника")
)

// parseAddArgs parses "/add" arguments:
//
//	<date> <HH:MM>[-<HH:MM>] <title> [@ <location>]
//
// date is сегодня/today, завтра/tomorrow, DD.MM, DD.MM.YYYY or YYYY-MM-DD.
// Without an end time the event lasts an hour.
func parseAddArgs(args string, now time.Time, loc *time.Location) (caldav.NewEvent, error) {
	fields := strings.Fields(args)
	if len(fields) < 2 {
		return caldav.NewEvent{}, errUsage
	}

	day, err := parseDay(fields[0], now.In(loc))
	if err != nil {
		return caldav.NewEvent{}, err
	}

	startClock, endClock, hasEnd := strings.Cut(fields[1], "-")
	start, err := atClock(day, startClock)
	if err != nil {
		return caldav.NewEvent{}, err
	}
	end := start.Add(defaultDuration)
	if hasEnd {
		if end, err = atClock(day, endClock); err != nil {
			return caldav.NewEvent{}, err
		}
		// 23:00-01:00 ends the next day
		if !end.After(start) {
			end = end.AddDate(0, 0, 1)
		}
	}

	rest := strings.Join(fields[2:], " ")
	title, location := rest, ""
	if i := strings.LastIndex(rest, "@"); i >= 0 {
		title, location = rest[:i], rest[i+1:]
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return caldav.NewEvent{}, errNoTitle
	}

	return caldav.NewEvent{
		Title:    title,
		Start:    start,
		End:      end,
		Location: strings.TrimSpace(location),
	}, nil
}

// parseDay returns local midnight of the named day
func parseDay(s string, now time.Time) (time.Time, error) {
	loc := now.Location()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)

	switch strings.ToLower(s) {
	case "сегодня", "today":
		return today, nil
	case "завтра", "tomorrow":
		return today.AddDate(0, 0, 1), nil
	case "послезавтра":
		return today.AddDate(0, 0, 2), nil
	}

	if t, err := time.ParseInLocation("2006-01-02", s, loc); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation("02.01.2006", s, loc); err == nil {
		return t, nil
	}
	if strings.Count(s, ".") == 1 {
		// No year: the next such date, today included. 29.02 may be years away.
		for year := today.Year(); year <= today.Year()+8; year++ {
			t, err := time.ParseInLocation("02.01.2006", fmt.Sprintf("%s.%d", s, year), loc)
			if err == nil && !t.Before(today) {
				return t, nil
			}
		}
	}
	return time.Time{}, errNoDate
}

func atClock(day time.Time, clock string) (time.Time, error) {
	t, err := time.Parse("15:04", clock)
	if err != nil {
		return time.Time{}, errNoTime
	}
	return time.Date(day.Year(), day.Month(), day.Day(), t.Hour(), t.Minute(), 0, 0, day.Location()), nil
}
