package bot

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/tazhate/calassist/internal/domain"
)

const periodCallbackPrefix = "period:"

// Period selection keyboard
func periodKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("📅 Сегодня", periodCallbackPrefix+string(domain.PeriodToday)),
			tgbotapi.NewInlineKeyboardButtonData("🌅 Завтра", periodCallbackPrefix+string(domain.PeriodTomorrow)),
			tgbotapi.NewInlineKeyboardButtonData("🗓 Неделя", periodCallbackPrefix+string(domain.PeriodWeek)),
		),
	)
}

// Briefing subscription toggle
func briefingKeyboard(enabled bool) tgbotapi.InlineKeyboardMarkup {
	if enabled {
		return tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("🔕 Отключить брифинги", "briefings:off"),
			),
		)
	}
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🔔 Включить брифинги", "briefings:on"),
		),
	)
}
