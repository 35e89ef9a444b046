package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"campus_notifier/internal/app"
	"campus_notifier/internal/infra/config"
	idb "campus_notifier/internal/infra/database"
	"campus_notifier/internal/infra/logger"
	"campus_notifier/internal/infra/scheduler"
	"campus_notifier/internal/infra/telegram"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc"
	"gopkg.in/telebot.v3"
)

// runBot opens the session and runs stream, bot and scheduler until SIGINT/SIGTERM.
func runBot(cfg *config.AppConfig, sessions *app.SessionManager, mainLogger *logrus.Entry) error {
	mainLogger.WithFields(logrus.Fields{
		"environment": cfg.Environment,
		"api_url":     cfg.APIURL,
		"stream_url":  cfg.StreamURL,
		"owner_id":    cfg.OwnerTelegramID,
	}).Info("Campus notifier starting...")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := idb.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("could not connect to database: %w", err)
	}
	defer db.Close()
	if err := idb.EnsureSchema(ctx, db); err != nil {
		return err
	}
	mainLogger.WithField("driver", db.DriverName()).Info("Database connection established successfully.")

	bot, err := telebot.NewBot(telebot.Settings{
		Token:  cfg.TelegramToken,
		Poller: &telebot.LongPoller{Timeout: 10 * time.Second},
		OnError: func(err error, c telebot.Context) {
			entry := logger.Component("telebot").WithError(err)
			if c != nil && c.Sender() != nil && c.Chat() != nil {
				entry = entry.WithFields(logrus.Fields{"text": c.Text(), "sender_id": c.Sender().ID, "chat_id": c.Chat().ID})
			}
			entry.Error("Telegram handler error")
		},
	})
	if err != nil {
		return fmt.Errorf("could not create Telegram bot: %w", err)
	}
	tgClient := telegram.NewTelebotAdapter(bot)

	relay := app.NewRelayService(idb.NewRelayRepository(db), tgClient, cfg.OwnerTelegramID, relayMinPriority(cfg, mainLogger), logger.Component("relay"))
	prefs := app.NewPreferenceService(sessions, relay, cfg.OwnerTelegramID)
	sessions.AddListener(relay.OnRecord)
	sessions.OnLogout(func(reason error) {
		msg := "Session ended: the backend rejected the token. Run `notifier login` on the host and restart the bot."
		if err := tgClient.SendMessage(cfg.OwnerTelegramID, msg, nil); err != nil {
			mainLogger.WithError(err).Error("Failed to tell the owner about the logout")
		}
	})

	if _, err := sessions.Open(ctx); err != nil {
		// The bot still starts so the owner can see /status.
		mainLogger.WithError(err).Error("Could not open session")
	} else if err := prefs.Sync(ctx); err != nil && !errors.Is(err, app.ErrNoSession) {
		mainLogger.WithError(err).Warn("Could not load notification preferences")
	}

	baseLogger := logger.Component("telegram")
	telegram.RegisterBotCommands(ctx, bot, cfg.OwnerTelegramID, sessions, baseLogger)
	telegram.RegisterCallbackHandlers(ctx, bot, cfg.OwnerTelegramID, sessions, relay, baseLogger)
	telegram.RegisterPreferenceHandlers(ctx, bot, prefs, baseLogger)

	notifScheduler := scheduler.NewNotificationScheduler(
		scheduler.Tasks{Sessions: sessions, Relay: relay, Preferences: prefs},
		logger.Component("scheduler"),
		cfg.CronSpecResync,
		cfg.CronSpecDigest,
	)
	if err := notifScheduler.Start(); err != nil {
		sessions.Close()
		return err
	}

	var wg conc.WaitGroup
	wg.Go(bot.Start)
	mainLogger.Info("Application setup complete. Bot, stream and scheduler are running.")

	<-ctx.Done()

	mainLogger.Info("Shutting down application...")
	notifScheduler.Stop()
	bot.Stop()
	wg.Wait()
	sessions.Close()
	mainLogger.Info("Application shut down gracefully.")
	return nil
}

