// internal/infra/telegram/bot_commands_handler.go
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"campus_notifier/internal/app"
	"campus_notifier/internal/domain/notification"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

const (
	handlerTimeout = 15 * time.Second
	unreadListMax  = 15
)

const (
	msgNotOwner  = "This bot only answers its owner."
	msgNoSession = "No active session. Run `notifier login` on the host, then restart the bot."
)

// RegisterBotCommands registers the owner's inbox commands.
func RegisterBotCommands(
	ctx context.Context,
	b *telebot.Bot,
	ownerID int64,
	sessions *app.SessionManager,
	baseLogger *logrus.Entry,
) {
	owned := func(command string, fn func(c telebot.Context, sess *app.Session, logCtx *logrus.Entry) error) {
		b.Handle(command, func(c telebot.Context) error {
			logCtx := baseLogger.WithFields(logrus.Fields{"command": command, "sender_id": c.Sender().ID})
			logCtx.Info("Command received")
			if c.Sender().ID != ownerID {
				logCtx.Warn("Unauthorized access attempt")
				return c.Send(msgNotOwner)
			}
			checkCtx, cancel := context.WithTimeout(ctx, handlerTimeout)
			sess, err := sessions.Check(checkCtx)
			cancel()
			if err != nil {
				if !errors.Is(err, app.ErrNoSession) {
					logCtx.WithError(err).Warn("Failed to reopen session")
				}
				return c.Send(msgNoSession, &telebot.SendOptions{ParseMode: telebot.ModeMarkdown})
			}
			return fn(c, sess, logCtx)
		})
	}

	b.Handle("/start", func(c telebot.Context) error {
		if c.Sender().ID != ownerID {
			return c.Send(msgNotOwner)
		}
		return c.Send(fmt.Sprintf("Hi %s! I forward your college notifications here. /help lists the commands.", c.Sender().FirstName))
	})

	b.Handle("/help", func(c telebot.Context) error {
		if c.Sender().ID != ownerID {
			return c.Send(msgNotOwner)
		}
		return c.Send(helpText, &telebot.SendOptions{ParseMode: telebot.ModeMarkdown})
	})

	owned("/status", func(c telebot.Context, sess *app.Session, _ *logrus.Entry) error {
		return c.Send(FormatStatus(sess, time.Now()))
	})

	owned("/unread", func(c telebot.Context, sess *app.Session, logCtx *logrus.Entry) error {
		opCtx, cancel := context.WithTimeout(ctx, handlerTimeout)
		defer cancel()

		if args := c.Args(); len(args) > 0 {
			category, err := ParseCategoryArg(args[0])
			if err != nil {
				return c.Send("Error: " + err.Error())
			}
			if err := sess.SwitchCategory(opCtx, category); err != nil && !errors.Is(err, app.ErrStaleLoad) {
				logCtx.WithError(err).Error("Failed to load notifications")
				return c.Send(fmt.Sprintf("Could not load notifications: %s", err))
			}
		}
		store := sess.Store()
		return c.Send(FormatUnread(store.Records(), store.Filter(), store.HasMore()))
	})

	owned("/more", func(c telebot.Context, sess *app.Session, logCtx *logrus.Entry) error {
		opCtx, cancel := context.WithTimeout(ctx, handlerTimeout)
		defer cancel()

		store := sess.Store()
		if !store.HasMore() {
			return c.Send("Nothing more to load.")
		}
		before := len(store.Records())
		if err := sess.LoadMore(opCtx); err != nil && !errors.Is(err, app.ErrStaleLoad) {
			logCtx.WithError(err).Error("Failed to load next page")
			return c.Send(fmt.Sprintf("Could not load more: %s", err))
		}
		return c.Send(fmt.Sprintf("Loaded %d more.\n\n%s", len(store.Records())-before, FormatUnread(store.Records(), store.Filter(), store.HasMore())))
	})

	owned("/readall", func(c telebot.Context, sess *app.Session, logCtx *logrus.Entry) error {
		opCtx, cancel := context.WithTimeout(ctx, handlerTimeout)
		defer cancel()

		var category *notification.Category
		if args := c.Args(); len(args) > 0 {
			var err error
			if category, err = ParseCategoryArg(args[0]); err != nil {
				return c.Send("Error: " + err.Error())
			}
		}
		n, err := sess.MarkAllRead(opCtx, category)
		if err != nil {
			logCtx.WithError(err).Error("Failed to mark all read")
			return c.Send(fmt.Sprintf("Could not mark notifications read: %s", err))
		}
		logCtx.WithField("changed", n).Info("Marked all read")
		return c.Send(fmt.Sprintf("Marked %d notifications read (%s).", n, categoryName(category)))
	})
}

var helpText = strings.Join([]string{
	"`/status` - connection, unread counts, token expiry",
	"`/unread [category|all]` - list unread notifications",
	"`/more` - load the next page",
	"`/readall [category]` - mark everything (or one category) read",
	"`/prefs` - show notification preferences",
	"`/prefs_set <category> <enabled|sse|email> <on|off>` - change one preference",
	"`/prefs_reset` - restore default preferences",
	"",
	"Categories: ATTENDANCE, ASSIGNMENT, GRADE, SYSTEM.",
}, "\n")

// ParseCategoryArg accepts a category name or "all" (nil).
func ParseCategoryArg(arg string) (*notification.Category, error) {
	if strings.EqualFold(arg, "all") {
		return nil, nil
	}
	c, ok := notification.ParseCategory(arg)
	if !ok {
		return nil, fmt.Errorf("unknown category %q, use one of ATTENDANCE, ASSIGNMENT, GRADE, SYSTEM or all", arg)
	}
	return &c, nil
}

func categoryName(c *notification.Category) string {
	if c == nil {
		return "all categories"
	}
	return string(*c)
}

// FormatStatus renders the /status reply.
func FormatStatus(sess *app.Session, now time.Time) string {
	store := sess.Store()
	var b strings.Builder
	fmt.Fprintf(&b, "Stream: %s\n", sess.Status())
	fmt.Fprintf(&b, "Unread: %d\n", store.UnreadCount())
	counts := store.UnreadByCategory()
	for _, c := range notification.AllCategories {
		if n := counts[c]; n > 0 {
			fmt.Fprintf(&b, "  %s: %d\n", c, n)
		}
	}
	fmt.Fprintf(&b, "Showing: %s\n", categoryName(store.Filter()))
	if exp := sess.ExpiresAt(); !exp.IsZero() {
		fmt.Fprintf(&b, "Token expires %s\n", humanize.RelTime(exp, now, "ago", "from now"))
	}
	if msg := store.Err(); msg != "" {
		fmt.Fprintf(&b, "Last error: %s\n", msg)
	}
	return strings.TrimRight(b.String(), "\n")
}

// FormatUnread lists the unread records in store order.
func FormatUnread(records []notification.Record, filter *notification.Category, hasMore bool) string {
	var b strings.Builder
	shown := 0
	unread := 0
	for _, rec := range records {
		if rec.IsRead {
			continue
		}
		unread++
		if shown == unreadListMax {
			continue
		}
		shown++
		title := rec.Title
		if title == "" {
			title = rec.Message
		}
		fmt.Fprintf(&b, "#%d [%s] %s (%s)\n", rec.ID, rec.Category, title, humanize.Time(rec.CreatedAt))
	}
	if unread == 0 {
		fmt.Fprintf(&b, "No unread notifications in %s.", categoryName(filter))
	} else if unread > shown {
		fmt.Fprintf(&b, "...and %d more unread.", unread-shown)
	}
	if hasMore {
		b.WriteString("\nOlder notifications: /more")
	}
	return strings.TrimRight(b.String(), "\n")
}
