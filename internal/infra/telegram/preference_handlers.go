// internal/infra/telegram/preference_handlers.go
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"campus_notifier/internal/app"
	"campus_notifier/internal/domain/notification"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

// RegisterPreferenceHandlers registers /prefs, /prefs_set and /prefs_reset.
func RegisterPreferenceHandlers(ctx context.Context, b *telebot.Bot, prefService *app.PreferenceService, baseLogger *logrus.Entry) {
	reply := func(c telebot.Context, logCtx *logrus.Entry, err error) error {
		switch {
		case errors.Is(err, app.ErrNotOwner):
			logCtx.Warn("Unauthorized access attempt")
			return c.Send(msgNotOwner)
		case errors.Is(err, app.ErrNoSession):
			return c.Send(msgNoSession, &telebot.SendOptions{ParseMode: telebot.ModeMarkdown})
		case errors.Is(err, app.ErrUnknownChannel):
			return c.Send("Channel must be one of enabled, sse, email.")
		default:
			logCtx.WithError(err).Error("Preference command failed")
			return c.Send(fmt.Sprintf("Preference update failed: %s", err))
		}
	}

	b.Handle("/prefs", func(c telebot.Context) error {
		logCtx := baseLogger.WithFields(logrus.Fields{"handler": "/prefs", "sender_id": c.Sender().ID})
		opCtx, cancel := context.WithTimeout(ctx, handlerTimeout)
		defer cancel()

		prefs, err := prefService.List(opCtx, c.Sender().ID)
		if err != nil {
			return reply(c, logCtx, err)
		}
		return c.Send(FormatPreferences(prefs))
	})

	b.Handle("/prefs_set", func(c telebot.Context) error {
		logCtx := baseLogger.WithFields(logrus.Fields{"handler": "/prefs_set", "sender_id": c.Sender().ID})

		args := c.Args()
		if len(args) != 3 {
			return c.Send("Usage: /prefs_set <category> <enabled|sse|email> <on|off>")
		}
		category, ok := notification.ParseCategory(args[0])
		if !ok {
			return c.Send(fmt.Sprintf("Unknown category %q.", args[0]))
		}
		on, err := parseSwitch(args[2])
		if err != nil {
			return c.Send(err.Error())
		}
		logCtx = logCtx.WithFields(logrus.Fields{"category": category, "channel": args[1], "on": on})

		opCtx, cancel := context.WithTimeout(ctx, handlerTimeout)
		defer cancel()
		updated, err := prefService.Set(opCtx, c.Sender().ID, category, args[1], on)
		if err != nil {
			return reply(c, logCtx, err)
		}
		logCtx.Info("Preference updated")
		return c.Send("Updated.\n" + formatPreference(*updated))
	})

	b.Handle("/prefs_reset", func(c telebot.Context) error {
		logCtx := baseLogger.WithFields(logrus.Fields{"handler": "/prefs_reset", "sender_id": c.Sender().ID})
		opCtx, cancel := context.WithTimeout(ctx, handlerTimeout)
		defer cancel()

		prefs, err := prefService.Reset(opCtx, c.Sender().ID)
		if err != nil {
			return reply(c, logCtx, err)
		}
		logCtx.Info("Preferences reset")
		return c.Send("Preferences reset.\n\n" + FormatPreferences(prefs))
	})
}

func parseSwitch(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on", "true", "yes", "1":
		return true, nil
	case "off", "false", "no", "0":
		return false, nil
	}
	return false, fmt.Errorf("expected on or off, got %q", s)
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func formatPreference(p notification.Preference) string {
	return fmt.Sprintf("%s: enabled %s, live %s, email %s", p.Category, onOff(p.IsEnabled), onOff(p.IsSSEEnabled), onOff(p.IsEmailEnabled))
}

// FormatPreferences lists preferences in AllCategories order.
func FormatPreferences(prefs []notification.Preference) string {
	if len(prefs) == 0 {
		return "No preferences stored; the backend defaults apply."
	}
	byCategory := make(map[notification.Category]notification.Preference, len(prefs))
	for _, p := range prefs {
		byCategory[p.Category] = p
	}
	lines := make([]string, 0, len(prefs))
	for _, c := range notification.AllCategories {
		if p, ok := byCategory[c]; ok {
			lines = append(lines, formatPreference(p))
		}
	}
	return strings.Join(lines, "\n")
}
