package bot

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/tazhate/calassist/config"
	"github.com/tazhate/calassist/internal/clients/caldav"
	"github.com/tazhate/calassist/internal/domain"
	"github.com/tazhate/calassist/internal/service"
)

const (
	webhookPath    = "/bot"
	handlerTimeout = 60 * time.Second
)

// Calendar is what the bot needs from the calendar service
type Calendar interface {
	ListEvents(ctx context.Context, period domain.Period) []caldav.Event
	AddEvent(ctx context.Context, ev caldav.NewEvent) service.AddEventResult
	FormatEventList(events []caldav.Event) string
	Timezone() *time.Location
}

// Store persists users and reads the created-event journal
type Store interface {
	GetUserByTelegramID(telegramID int64) (*domain.User, error)
	CreateUser(u *domain.User) error
	SetBriefings(telegramID int64, enabled bool) error
	ListRecentCreatedEvents(limit int) ([]*domain.CreatedEvent, error)
}

type Bot struct {
	api      *tgbotapi.BotAPI
	cfg      *config.Config
	storage  Store
	calendar Calendar
	log      zerolog.Logger
	now      func() time.Time
}

func New(cfg *config.Config, storage Store, calendar Calendar, log zerolog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(cfg.TelegramToken)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}
	return NewWithAPI(api, cfg, storage, calendar, log), nil
}

// NewWithAPI wraps an existing Telegram client
func NewWithAPI(api *tgbotapi.BotAPI, cfg *config.Config, storage Store, calendar Calendar, log zerolog.Logger) *Bot {
	bot := &Bot{
		api:      api,
		cfg:      cfg,
		storage:  storage,
		calendar: calendar,
		log:      log.With().Str("component", "bot").Logger(),
		now:      time.Now,
	}

	bot.log.Info().Str("username", api.Self.UserName).Msg("authorized")

	// Set bot commands (menu button)
	bot.setCommands()

	return bot
}

func (b *Bot) setCommands() {
	commands := []tgbotapi.BotCommand{
		{Command: "today", Description: "📅 События на сегодня"},
		{Command: "tomorrow", Description: "🌅 События на завтра"},
		{Command: "week", Description: "🗓 События на неделю"},
		{Command: "add", Description: "➕ Добавить событие"},
		{Command: "recent", Description: "🕘 Недавно добавленные"},
		{Command: "help", Description: "❓ Справка по командам"},
	}

	cfg := tgbotapi.NewSetMyCommands(commands...)
	if _, err := b.api.Request(cfg); err != nil {
		b.log.Warn().Err(err).Msg("failed to set commands")
	}
}

// UsesWebhook is true when updates arrive over HTTP instead of polling
func (b *Bot) UsesWebhook() bool {
	return b.cfg.WebhookURL != ""
}

func (b *Bot) SetupWebhook() error {
	webhookURL := strings.TrimRight(b.cfg.WebhookURL, "/") + webhookPath

	wh, err := tgbotapi.NewWebhook(webhookURL)
	if err != nil {
		return fmt.Errorf("create webhook: %w", err)
	}

	_, err = b.api.Request(wh)
	if err != nil {
		return fmt.Errorf("set webhook: %w", err)
	}

	info, err := b.api.GetWebhookInfo()
	if err != nil {
		return fmt.Errorf("get webhook info: %w", err)
	}

	if info.LastErrorDate != 0 {
		b.log.Warn().Str("error", info.LastErrorMessage).Msg("webhook last error")
	}

	b.log.Info().Str("url", webhookURL).Msg("webhook set")
	return nil
}

// WebhookHandler accepts Telegram updates posted to the webhook URL
func (b *Bot) WebhookHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		update, err := b.api.HandleUpdate(r)
		if err != nil {
			b.log.Warn().Err(err).Msg("bad webhook update")
			http.Error(w, "bad update", http.StatusBadRequest)
			return
		}
		go b.handleUpdate(*update)
		w.WriteHeader(http.StatusOK)
	})
}

// Start serves updates until ctx is done. With a webhook configured the
// updates come through WebhookHandler and Start only waits.
func (b *Bot) Start(ctx context.Context) error {
	if b.UsesWebhook() {
		<-ctx.Done()
		return nil
	}

	// Polling needs the webhook removed
	if _, err := b.api.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
		return fmt.Errorf("delete webhook: %w", err)
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.api.GetUpdatesChan(u)
	b.log.Info().Msg("polling for updates")

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return nil
		case update := <-updates:
			go b.handleUpdate(update)
		}
	}
}

func (b *Bot) SendMessage(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	_, err := b.api.Send(msg)
	return err
}

func (b *Bot) SendMessageWithKeyboard(chatID int64, text string, keyboard tgbotapi.InlineKeyboardMarkup) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = keyboard
	_, err := b.api.Send(msg)
	return err
}

// reply sends a message and logs instead of returning the error
func (b *Bot) reply(chatID int64, text string) {
	if err := b.SendMessage(chatID, text); err != nil {
		b.log.Error().Err(err).Int64("chat_id", chatID).Msg("send message")
	}
}
