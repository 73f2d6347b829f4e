package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/tazhate/calassist/config"
	"github.com/tazhate/calassist/internal/api"
	"github.com/tazhate/calassist/internal/bot"
	"github.com/tazhate/calassist/internal/clients/caldav"
	"github.com/tazhate/calassist/internal/logger"
	"github.com/tazhate/calassist/internal/scheduler"
	"github.com/tazhate/calassist/internal/service"
	"github.com/tazhate/calassist/internal/storage"
)

func main() {
	// .env для локальной разработки
	envErr := godotenv.Load()

	// Загрузка конфига
	cfg, err := config.Load()
	if err != nil {
		boot := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
		boot.Fatal().Err(err).Msg("failed to load config")
	}

	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	if envErr != nil {
		log.Debug().Msg("no .env file found, using environment variables")
	}

	// Инициализация storage
	store, err := storage.New(cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init storage")
	}
	defer store.Close()

	// CalDAV клиент и календарный сервис
	client := caldav.NewClient(
		caldav.WithLogger(log),
		caldav.WithLocation(cfg.Timezone),
		caldav.WithTimeout(cfg.CalDAV.Timeout),
		caldav.WithRetry(cfg.CalDAV.Retries, 0),
		caldav.WithMaxConcurrency(cfg.CalDAV.Concurrency),
	)
	calendarSvc := service.NewCalendarService(client, cfg.Credentials(), cfg.Timezone,
		service.WithJournal(store),
		service.WithLogger(log),
	)
	if !calendarSvc.IsConfigured() {
		log.Warn().Msg("CalDAV credentials missing, calendar requests will return nothing")
	}

	// Контекст для graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Инициализация бота
	var tgBot *bot.Bot
	var webhook http.Handler
	if cfg.BotEnabled() {
		tgBot, err = bot.New(cfg, store, calendarSvc, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to init bot")
		}
		if tgBot.UsesWebhook() {
			if err := tgBot.SetupWebhook(); err != nil {
				log.Fatal().Err(err).Msg("failed to setup webhook")
			}
			webhook = tgBot.WebhookHandler()
		}
	} else {
		log.Warn().Msg("TELEGRAM_BOT_TOKEN not set, bot and briefings disabled")
	}

	server := &http.Server{
		Addr: ":" + cfg.ServerPort,
		Handler: api.NewRouter(api.Options{
			Calendar: calendarSvc,
			Journal:  store,
			Username: cfg.APIUsername,
			Password: cfg.APIPassword,
			Webhook:  webhook,
			Logger:   log,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("starting http server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http server error")
			cancel()
		}
	}()

	var sched *scheduler.Scheduler
	if tgBot != nil {
		sched = scheduler.New(cfg, calendarSvc, store, log)
		sched.SetSender(tgBot)

		// Запуск scheduler в горутине
		go func() {
			if err := sched.Start(ctx); err != nil {
				log.Error().Err(err).Msg("scheduler error")
			}
		}()

		// Запуск бота в горутине
		go func() {
			if err := tgBot.Start(ctx); err != nil {
				log.Error().Err(err).Msg("bot error")
			}
		}()
	}

	log.Info().Msg("calassist started")

	// Ожидание сигнала завершения
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")

	// Graceful shutdown
	cancel()
	if sched != nil {
		sched.Stop()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("error stopping http server")
	}

	log.Info().Msg("calassist stopped")
}
