// internal/infra/telegram/callback_handlers.go
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"campus_notifier/internal/app"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

const (
	actionRead    = "read"
	actionDismiss = "dismiss"
)

// ParseCallback splits "read_42" (optionally prefixed with telebot's \f
// marker) into action and notification id.
func ParseCallback(data string) (action string, id int64, err error) {
	data = strings.TrimPrefix(data, "\f")
	data, _, _ = strings.Cut(data, "|")
	action, idStr, found := strings.Cut(data, "_")
	if !found || (action != actionRead && action != actionDismiss) {
		return "", 0, fmt.Errorf("invalid callback data format: %q", data)
	}
	id, err = strconv.ParseInt(idStr, 10, 64)
	if err != nil || id <= 0 {
		return "", 0, fmt.Errorf("invalid notification id %q in callback", idStr)
	}
	return action, id, nil
}

// RegisterCallbackHandlers handles the Mark read / Dismiss buttons under
// relayed notifications.
func RegisterCallbackHandlers(
	ctx context.Context,
	b *telebot.Bot,
	ownerID int64,
	sessions *app.SessionManager,
	relay *app.RelayService,
	baseLogger *logrus.Entry,
) {
	b.Handle(telebot.OnCallback, func(c telebot.Context) error {
		data := c.Callback().Data
		logCtx := baseLogger.WithFields(logrus.Fields{"callback": strings.TrimPrefix(data, "\f"), "sender_id": c.Sender().ID})

		if c.Sender().ID != ownerID {
			logCtx.Warn("Unauthorized callback")
			return c.Respond(&telebot.CallbackResponse{Text: msgNotOwner})
		}

		action, id, err := ParseCallback(data)
		if err != nil {
			c.Bot().OnError(err, c)
			return c.Respond(&telebot.CallbackResponse{Text: "Unknown action."})
		}

		sess := sessions.Current()
		if sess == nil {
			return c.Respond(&telebot.CallbackResponse{Text: "No active session.", ShowAlert: true})
		}

		opCtx, cancel := context.WithTimeout(ctx, handlerTimeout)
		defer cancel()

		var suffix, ack string
		switch action {
		case actionRead:
			err = sess.MarkRead(opCtx, id)
			suffix, ack = "✓ read", "Marked read"
		case actionDismiss:
			err = sess.Dismiss(opCtx, id)
			if err == nil {
				relay.Forget(opCtx, id)
			}
			suffix, ack = "✗ dismissed", "Dismissed"
		}
		if err != nil {
			c.Bot().OnError(fmt.Errorf("error processing %s for notification %d: %w", action, id, err), c)
			return c.Respond(&telebot.CallbackResponse{Text: "Failed: " + err.Error(), ShowAlert: true})
		}
		logCtx.WithField("notification_id", id).Info("Callback processed")

		if msg := c.Message(); msg != nil {
			if _, editErr := c.Bot().Edit(msg, msg.Text+"\n\n"+suffix); editErr != nil {
				logCtx.WithError(editErr).Warn("Failed to update relayed message")
			}
		}
		return c.Respond(&telebot.CallbackResponse{Text: ack})
	})
}
