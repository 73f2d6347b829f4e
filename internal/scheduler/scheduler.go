package scheduler

import (
	"context"
	"fmt"
	"html"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/tazhate/calassist/config"
	"github.com/tazhate/calassist/internal/clients/caldav"
	"github.com/tazhate/calassist/internal/domain"
	"github.com/tazhate/calassist/internal/metrics"
)

const briefingTimeout = 2 * time.Minute

type MessageSender interface {
	SendMessage(chatID int64, text string) error
}

// Calendar is what the briefings read
type Calendar interface {
	ListEvents(ctx context.Context, period domain.Period) []caldav.Event
	FormatBriefing(heading string, events []caldav.Event) string
}

// Subscribers lists users who want briefings
type Subscribers interface {
	ListBriefingSubscribers() ([]*domain.User, error)
}

type Scheduler struct {
	cron        *cron.Cron
	cfg         *config.Config
	calendar    Calendar
	subscribers Subscribers
	sender      MessageSender
	log         zerolog.Logger
}

func New(cfg *config.Config, calendar Calendar, subscribers Subscribers, log zerolog.Logger) *Scheduler {
	location := cfg.Timezone
	if location == nil {
		location = time.Local
	}

	c := cron.New(cron.WithLocation(location))

	return &Scheduler{
		cron:        c,
		cfg:         cfg,
		calendar:    calendar,
		subscribers: subscribers,
		log:         log.With().Str("component", "scheduler").Logger(),
	}
}

func (s *Scheduler) SetSender(sender MessageSender) {
	s.sender = sender
}

// dailySpec turns "HH:MM" into a cron spec firing once a day
func dailySpec(clock string) (string, error) {
	h, m, err := config.ParseClock(clock)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d %d * * *", m, h), nil
}

func (s *Scheduler) Start(ctx context.Context) error {
	// Утренний брифинг
	morningSpec, err := dailySpec(s.cfg.MorningTime)
	if err != nil {
		return fmt.Errorf("morning time: %w", err)
	}
	if _, err := s.cron.AddFunc(morningSpec, s.MorningBriefing); err != nil {
		return fmt.Errorf("add morning briefing: %w", err)
	}

	// Вечерний анонс на завтра
	eveningSpec, err := dailySpec(s.cfg.EveningTime)
	if err != nil {
		return fmt.Errorf("evening time: %w", err)
	}
	if _, err := s.cron.AddFunc(eveningSpec, s.EveningPreview); err != nil {
		return fmt.Errorf("add evening preview: %w", err)
	}

	s.cron.Start()
	s.log.Info().
		Str("tz", s.cron.Location().String()).
		Str("morning", s.cfg.MorningTime).
		Str("evening", s.cfg.EveningTime).
		Msg("scheduler started")

	<-ctx.Done()
	return nil
}

func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info().Msg("scheduler stopped")
}

// MorningBriefing sends today's events to every subscriber
func (s *Scheduler) MorningBriefing() {
	s.broadcast("morning", domain.PeriodToday, "☀️ <b>Доброе утро!</b> Сегодня в календаре:\n")
}

// EveningPreview sends tomorrow's events to every subscriber
func (s *Scheduler) EveningPreview() {
	s.broadcast("evening", domain.PeriodTomorrow, "🌙 <b>Завтра в календаре:</b>\n")
}

func (s *Scheduler) broadcast(kind string, period domain.Period, heading string) {
	if s.sender == nil {
		return
	}

	users, err := s.subscribers.ListBriefingSubscribers()
	if err != nil {
		s.log.Error().Err(err).Str("kind", kind).Msg("list subscribers")
		return
	}
	if len(users) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), briefingTimeout)
	defer cancel()

	// One calendar read serves every subscriber
	events := s.calendar.ListEvents(ctx, period)
	text := html.EscapeString(s.calendar.FormatBriefing("", events))
	if text == "" {
		s.log.Debug().Str("kind", kind).Msg("no events, briefing skipped")
		return
	}
	text = heading + text

	for _, u := range users {
		if err := s.sender.SendMessage(u.TelegramID, text); err != nil {
			s.log.Error().Err(err).Str("kind", kind).Int64("telegram_id", u.TelegramID).Msg("send briefing")
			metrics.BriefingSent(kind, false)
			continue
		}
		metrics.BriefingSent(kind, true)
	}
}
