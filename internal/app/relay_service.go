// internal/app/relay_service.go
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"campus_notifier/internal/domain/notification"
	domainTelegram "campus_notifier/internal/domain/telegram"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

const relayTimeout = 10 * time.Second

// RelayService forwards unread notifications to the owner's Telegram chat.
type RelayService struct {
	relays      notification.RelayRepository
	telegram    domainTelegram.Client
	ownerChatID int64
	minPriority notification.Priority
	logger      *logrus.Entry

	mu       sync.RWMutex
	disabled map[notification.Category]bool
}

func NewRelayService(
	relays notification.RelayRepository,
	tc domainTelegram.Client,
	ownerChatID int64,
	minPriority notification.Priority,
	logger *logrus.Entry,
) *RelayService {
	return &RelayService{
		relays:      relays,
		telegram:    tc,
		ownerChatID: ownerChatID,
		minPriority: minPriority,
		logger:      logger,
		disabled:    make(map[notification.Category]bool),
	}
}

// SetPreferences mutes categories the user switched off on the backend.
func (s *RelayService) SetPreferences(prefs []notification.Preference) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disabled = make(map[notification.Category]bool, len(prefs))
	for _, p := range prefs {
		if !p.IsEnabled {
			s.disabled[p.Category] = true
		}
	}
}

func (s *RelayService) muted(c notification.Category) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.disabled[c]
}

// OnRecord is a RecordListener.
func (s *RelayService) OnRecord(_ *Session, rec notification.Record) {
	ctx, cancel := context.WithTimeout(context.Background(), relayTimeout)
	defer cancel()
	if _, err := s.Relay(ctx, rec); err != nil {
		s.logger.WithError(err).WithField("notification_id", rec.ID).Error("Failed to relay notification")
	}
}

// Relay sends rec to the owner unless it is read, below the priority
// threshold, muted, or already relayed. It reports whether a message was sent.
func (s *RelayService) Relay(ctx context.Context, rec notification.Record) (bool, error) {
	logCtx := s.logger.WithFields(logrus.Fields{"notification_id": rec.ID, "category": rec.Category, "priority": rec.Priority})

	if rec.IsRead || rec.Priority.Rank() < s.minPriority.Rank() || s.muted(rec.Category) {
		logCtx.Debug("Notification not relayed")
		return false, nil
	}

	_, err := s.relays.GetRelay(ctx, rec.ID, s.ownerChatID)
	if err == nil {
		logCtx.Debug("Notification already relayed")
		return false, nil
	}
	if !errors.Is(err, notification.ErrRelayNotFound) {
		return false, fmt.Errorf("failed to check relay log: %w", err)
	}

	replyMarkup := &telebot.ReplyMarkup{}
	btnRead := replyMarkup.Data("Mark read", fmt.Sprintf("read_%d", rec.ID))
	btnDismiss := replyMarkup.Data("Dismiss", fmt.Sprintf("dismiss_%d", rec.ID))
	replyMarkup.Inline(replyMarkup.Row(btnRead, btnDismiss))

	if err := s.telegram.SendMessage(s.ownerChatID, FormatRecord(rec), &telebot.SendOptions{ReplyMarkup: replyMarkup, DisableWebPagePreview: true}); err != nil {
		return false, fmt.Errorf("failed to send notification %d: %w", rec.ID, err)
	}

	relay := &notification.Relay{
		NotificationID: rec.ID,
		ChatID:         s.ownerChatID,
		Category:       rec.Category,
		Priority:       rec.Priority,
	}
	if err := s.relays.CreateRelay(ctx, relay); err != nil {
		logCtx.WithError(err).Error("Notification sent but relay log write failed")
		return true, nil
	}
	logCtx.Info("Notification relayed")
	return true, nil
}

// Forget drops the relay log entry of a dismissed notification.
func (s *RelayService) Forget(ctx context.Context, notificationID int64) {
	if err := s.relays.DeleteRelay(ctx, notificationID, s.ownerChatID); err != nil && !errors.Is(err, notification.ErrRelayNotFound) {
		s.logger.WithError(err).WithField("notification_id", notificationID).Warn("Failed to delete relay log entry")
	}
}

// Prune drops relay log entries older than retention unless the notification
// is still held by store.
func (s *RelayService) Prune(ctx context.Context, store *NotificationStore, retention time.Duration) (int64, error) {
	var keep []int64
	for _, rec := range store.Records() {
		keep = append(keep, rec.ID)
	}
	n, err := s.relays.PruneRelays(ctx, s.ownerChatID, time.Now().Add(-retention), keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune relay log: %w", err)
	}
	if n > 0 {
		s.logger.WithField("removed", n).Info("Relay log pruned")
	}
	return n, nil
}

// SendDigest posts unread counts per category plus how many notifications
// were relayed in the last day.
func (s *RelayService) SendDigest(ctx context.Context, store *NotificationStore) error {
	since := time.Now().Add(-24 * time.Hour)
	relayed, err := s.relays.ListRelaysSince(ctx, s.ownerChatID, since)
	if err != nil {
		return fmt.Errorf("failed to list relays for digest: %w", err)
	}

	text := FormatDigest(store.UnreadByCategory(), len(relayed))
	if err := s.telegram.SendMessage(s.ownerChatID, text, nil); err != nil {
		return fmt.Errorf("failed to send digest: %w", err)
	}
	s.logger.WithField("relayed_last_day", len(relayed)).Info("Digest sent")
	return nil
}

// FormatRecord renders a record as a plain-text chat message.
func FormatRecord(rec notification.Record) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s", rec.Category)
	if rec.Priority != notification.PriorityNormal {
		fmt.Fprintf(&b, " · %s", rec.Priority)
	}
	b.WriteString("] ")
	if rec.Title != "" {
		b.WriteString(rec.Title)
	} else {
		fmt.Fprintf(&b, "Notification #%d", rec.ID)
	}
	if rec.Message != "" {
		b.WriteString("\n")
		b.WriteString(rec.Message)
	}
	if rec.ActorName != "" {
		fmt.Fprintf(&b, "\nFrom: %s", rec.ActorName)
	}
	if rec.ActionURL != "" {
		fmt.Fprintf(&b, "\n%s", rec.ActionURL)
	}
	if !rec.CreatedAt.IsZero() {
		fmt.Fprintf(&b, "\n%s", rec.CreatedAt.Local().Format("2006-01-02 15:04"))
	}
	return b.String()
}

// FormatDigest renders unread counts in AllCategories order.
func FormatDigest(unread map[notification.Category]int, relayedLastDay int) string {
	total := 0
	for _, n := range unread {
		total += n
	}
	if total == 0 {
		return fmt.Sprintf("No unread notifications. %d relayed in the last 24h.", relayedLastDay)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d unread notifications:\n", total)
	for _, c := range notification.AllCategories {
		if n := unread[c]; n > 0 {
			fmt.Fprintf(&b, "  %s: %d\n", c, n)
		}
	}
	fmt.Fprintf(&b, "%d relayed in the last 24h.", relayedLastDay)
	return b.String()
}
