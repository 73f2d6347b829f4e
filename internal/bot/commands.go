package bot

import (
	"context"
	"fmt"
	"html"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/tazhate/calassist/internal/domain"
	"github.com/tazhate/calassist/internal/metrics"
	"github.com/tazhate/calassist/internal/service"
)

const recentLimit = 10

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message, user *domain.User) {
	chatID := msg.Chat.ID
	cmd := msg.Command()
	args := strings.TrimSpace(msg.CommandArguments())

	switch cmd {
	case "start":
		b.cmdStart(chatID, user)
	case "stop":
		b.cmdStop(chatID, user)
	case "help":
		b.cmdHelp(chatID)
	case "today":
		b.sendEvents(ctx, chatID, domain.PeriodToday)
	case "tomorrow":
		b.sendEvents(ctx, chatID, domain.PeriodTomorrow)
	case "week":
		b.sendEvents(ctx, chatID, domain.PeriodWeek)
	case "add":
		b.cmdAdd(ctx, chatID, user, args)
	case "recent":
		b.cmdRecent(chatID)
	default:
		b.reply(chatID, "Неизвестная команда. /help для списка команд")
	}
}

func (b *Bot) cmdStart(chatID int64, user *domain.User) {
	if user == nil {
		b.reply(chatID, "❌ Ошибка регистрации")
		return
	}

	if !user.Briefings {
		if err := b.storage.SetBriefings(user.TelegramID, true); err != nil {
			b.log.Error().Err(err).Int64("telegram_id", user.TelegramID).Msg("enable briefings")
		}
	}

	text := fmt.Sprintf("👋 Привет, %s!\n\nЯ показываю события из календаря и добавляю новые. "+
		"Утром пришлю план на день, вечером — на завтра.\n\n/help — список команд", html.EscapeString(user.Name))
	b.SendMessageWithKeyboard(chatID, text, periodKeyboard())
}

func (b *Bot) cmdStop(chatID int64, user *domain.User) {
	if user == nil {
		b.reply(chatID, "Сначала /start")
		return
	}

	if err := b.storage.SetBriefings(user.TelegramID, false); err != nil {
		b.reply(chatID, "❌ Ошибка: "+html.EscapeString(err.Error()))
		return
	}

	b.SendMessageWithKeyboard(chatID, "🔕 Брифинги отключены. Команды по-прежнему работают.", briefingKeyboard(false))
}

func (b *Bot) cmdHelp(chatID int64) {
	text := `<b>Команды:</b>

<b>Календарь</b>
/today — события на сегодня
/tomorrow — события на завтра
/week — события на неделю
/add дата время название @ место — добавить событие
/recent — недавно добавленные

<b>Брифинги</b>
/start — включить утренний и вечерний брифинг
/stop — отключить брифинги

<b>Примеры</b>
/add завтра 15:00 Стоматолог
/add 2024-03-08 19:00-22:00 Ужин @ Ресторан
/add 12.05 09:30 Созвон`

	b.reply(chatID, text)
}

func (b *Bot) sendEvents(ctx context.Context, chatID int64, p domain.Period) {
	events := b.calendar.ListEvents(ctx, p)

	text := fmt.Sprintf("<b>📅 События на %s:</b>\n\n", p.Title()) +
		html.EscapeString(b.calendar.FormatEventList(events))
	b.reply(chatID, text)
}

func (b *Bot) cmdAdd(ctx context.Context, chatID int64, user *domain.User, args string) {
	if user == nil {
		b.reply(chatID, "Сначала /start")
		return
	}

	if args == "" {
		b.reply(chatID, "Укажи событие: /add завтра 15:00 Стоматолог @ Клиника")
		return
	}

	ev, err := parseAddArgs(args, b.now(), b.calendar.Timezone())
	if err != nil {
		b.reply(chatID, "❌ "+html.EscapeString(err.Error()))
		return
	}

	res := b.calendar.AddEvent(service.ContextWithActor(ctx, user.TelegramID), ev)
	metrics.EventAdded("bot", res.Success)
	if !res.Success {
		b.reply(chatID, "❌ "+html.EscapeString(res.Error))
		return
	}

	loc := b.calendar.Timezone()
	text := fmt.Sprintf("✅ Событие добавлено\n\n<b>%s</b>\n%s, %s–%s",
		html.EscapeString(ev.Title),
		ev.Start.In(loc).Format("02.01"),
		ev.Start.In(loc).Format("15:04"),
		ev.End.In(loc).Format("15:04"),
	)
	if ev.Location != "" {
		text += "\n📍 " + html.EscapeString(ev.Location)
	}
	b.reply(chatID, text)
}

func (b *Bot) cmdRecent(chatID int64) {
	events, err := b.storage.ListRecentCreatedEvents(recentLimit)
	if err != nil {
		b.reply(chatID, "❌ Ошибка: "+html.EscapeString(err.Error()))
		return
	}

	if len(events) == 0 {
		b.reply(chatID, "Пока ничего не добавлено")
		return
	}

	loc := b.calendar.Timezone()
	var sb strings.Builder
	sb.WriteString("<b>🕘 Недавно добавленные:</b>\n\n")
	for _, e := range events {
		sb.WriteString(fmt.Sprintf("• %s — %s", e.FormatDateTime(loc), html.EscapeString(e.Title)))
		if e.Location != "" {
			sb.WriteString(" 📍" + html.EscapeString(e.Location))
		}
		sb.WriteString("\n")
	}
	b.reply(chatID, sb.String())
}
