// internal/domain/notification/repository.go
package notification

import (
	"context"
	"errors"
	"time"
)

// ErrUnauthorized is returned by any backend call whose token was rejected.
// Receiving it means the session must be torn down.
var ErrUnauthorized = errors.New("backend rejected the session token")

var ErrRelayNotFound = errors.New("notification relay not found")

// ListOptions are the recognised options of the paginated notification query.
type ListOptions struct {
	Category *Category // nil means all categories
	Cursor   string
	PageSize int
}

// API defines the backend operations the client uses.
type API interface {
	ListNotifications(ctx context.Context, token string, opts ListOptions) (*Page, error)
	MarkRead(ctx context.Context, token string, id int64) error
	MarkAllRead(ctx context.Context, token string, category *Category) error
	Dismiss(ctx context.Context, token string, id int64) error

	Preferences(ctx context.Context, token string) ([]Preference, error)
	UpdatePreference(ctx context.Context, token string, pref Preference) (*Preference, error)
	ResetPreferences(ctx context.Context, token string) ([]Preference, error)

	// Login exchanges credentials for a bearer token.
	Login(ctx context.Context, username, password string) (string, error)
}

// Relay is a delivery-log entry: a notification forwarded to a chat.
type Relay struct {
	ID             int64
	NotificationID int64
	ChatID         int64
	Category       Category
	Priority       Priority
	RelayedAt      time.Time
}

// RelayRepository persists which notifications were already forwarded so a
// restart does not forward them again.
type RelayRepository interface {
	CreateRelay(ctx context.Context, r *Relay) error
	GetRelay(ctx context.Context, notificationID, chatID int64) (*Relay, error)
	DeleteRelay(ctx context.Context, notificationID, chatID int64) error
	ListRelaysSince(ctx context.Context, chatID int64, since time.Time) ([]*Relay, error)
	PruneRelays(ctx context.Context, chatID int64, before time.Time, keep []int64) (int64, error)
}
