package bot

import (
	"context"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/tazhate/calassist/internal/domain"
)

func (b *Bot) handleUpdate(update tgbotapi.Update) {
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			b.log.Error().Interface("panic", r).Int("update_id", update.UpdateID).Msg("update handler panicked")
		}
	}()

	if update.Message != nil {
		b.handleMessage(ctx, update.Message)
	} else if update.CallbackQuery != nil {
		b.handleCallback(ctx, update.CallbackQuery)
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil {
		return
	}
	userID := msg.From.ID
	chatID := msg.Chat.ID

	if !b.cfg.IsAllowedUser(userID) {
		b.reply(chatID, "⛔ Доступ запрещён")
		return
	}

	user, err := b.storage.GetUserByTelegramID(userID)
	if err != nil {
		b.log.Error().Err(err).Int64("telegram_id", userID).Msg("get user")
		return
	}

	// Авто-регистрация если пользователь в allowed list но не зарегистрирован
	if user == nil {
		user = b.autoRegisterUser(msg.From)
	}

	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}

	if msg.IsCommand() {
		b.handleCommand(ctx, msg, user)
		return
	}

	b.SendMessageWithKeyboard(chatID, "Что показать?\n\nДобавить событие: /add завтра 15:00 Стоматолог", periodKeyboard())
}

// autoRegisterUser auto-registers an allowed user with briefings on
func (b *Bot) autoRegisterUser(from *tgbotapi.User) *domain.User {
	name := from.FirstName
	if from.LastName != "" {
		name += " " + from.LastName
	}

	role := domain.RoleOwner
	if from.ID == b.cfg.PartnerTelegramID {
		role = domain.RolePartner
	}

	newUser := &domain.User{
		TelegramID: from.ID,
		Name:       name,
		Role:       role,
		Briefings:  true,
	}

	if err := b.storage.CreateUser(newUser); err != nil {
		b.log.Error().Err(err).Int64("telegram_id", from.ID).Msg("auto-register user")
		return nil
	}

	b.log.Info().Str("name", name).Int64("telegram_id", from.ID).Msg("auto-registered user")
	return newUser
}

func (b *Bot) handleCallback(ctx context.Context, callback *tgbotapi.CallbackQuery) {
	if callback.Message == nil {
		return
	}
	userID := callback.From.ID
	chatID := callback.Message.Chat.ID

	if !b.cfg.IsAllowedUser(userID) {
		b.api.Request(tgbotapi.NewCallback(callback.ID, "⛔ Доступ запрещён"))
		return
	}

	kind, value, _ := strings.Cut(callback.Data, ":")

	switch kind {
	case "period":
		p, err := domain.ParsePeriod(value)
		if err != nil {
			b.api.Request(tgbotapi.NewCallback(callback.ID, "Неизвестный период"))
			return
		}
		b.api.Request(tgbotapi.NewCallback(callback.ID, ""))
		b.sendEvents(ctx, chatID, p)

	case "briefings":
		enabled := value == "on"
		if err := b.storage.SetBriefings(userID, enabled); err != nil {
			b.log.Error().Err(err).Int64("telegram_id", userID).Msg("set briefings")
			b.api.Request(tgbotapi.NewCallback(callback.ID, "Ошибка"))
			return
		}
		text := "🔕 Брифинги отключены"
		if enabled {
			text = "🔔 Брифинги включены"
		}
		b.api.Request(tgbotapi.NewCallback(callback.ID, text))
		b.reply(chatID, text)

	default:
		b.api.Request(tgbotapi.NewCallback(callback.ID, ""))
	}
}
