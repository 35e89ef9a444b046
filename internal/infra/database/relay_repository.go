// internal/infra/database/relay_repository.go
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"campus_notifier/internal/domain/notification"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

var ErrDuplicateRelay = errors.New("notification already relayed to this chat")

const pqUniqueViolation = pq.ErrorCode("23505")

type relayRow struct {
	ID             int64     `db:"id"`
	NotificationID int64     `db:"notification_id"`
	ChatID         int64     `db:"chat_id"`
	Category       string    `db:"category"`
	Priority       string    `db:"priority"`
	RelayedAt      time.Time `db:"relayed_at"`
}

func (r relayRow) toDomain() *notification.Relay {
	return &notification.Relay{
		ID:             r.ID,
		NotificationID: r.NotificationID,
		ChatID:         r.ChatID,
		Category:       notification.Category(r.Category),
		Priority:       notification.Priority(r.Priority),
		RelayedAt:      r.RelayedAt,
	}
}

const relayColumns = `id, notification_id, chat_id, category, priority, relayed_at`

// RelayRepository is the delivery log on PostgreSQL or SQLite. Queries are
// written with ? placeholders and rebound for the driver.
type RelayRepository struct {
	db *sqlx.DB
}

var _ notification.RelayRepository = (*RelayRepository)(nil)

func NewRelayRepository(db *sqlx.DB) *RelayRepository {
	return &RelayRepository{db: db}
}

// relayTime drops sub-second precision so SQLite's text timestamps compare in order.
func relayTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == pqUniqueViolation
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func (r *RelayRepository) CreateRelay(ctx context.Context, relay *notification.Relay) error {
	if relay.RelayedAt.IsZero() {
		relay.RelayedAt = time.Now()
	}
	relay.RelayedAt = relayTime(relay.RelayedAt)

	query := r.db.Rebind(`INSERT INTO notification_relays (notification_id, chat_id, category, priority, relayed_at)
               VALUES (?, ?, ?, ?, ?)
               RETURNING id`)
	err := r.db.QueryRowxContext(ctx, query,
		relay.NotificationID, relay.ChatID, string(relay.Category), string(relay.Priority), relay.RelayedAt,
	).Scan(&relay.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateRelay
		}
		return fmt.Errorf("error creating notification relay: %w", err)
	}
	return nil
}

func (r *RelayRepository) GetRelay(ctx context.Context, notificationID, chatID int64) (*notification.Relay, error) {
	query := r.db.Rebind(`SELECT ` + relayColumns + ` FROM notification_relays
               WHERE notification_id = ? AND chat_id = ?`)
	var row relayRow
	if err := r.db.GetContext(ctx, &row, query, notificationID, chatID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notification.ErrRelayNotFound
		}
		return nil, fmt.Errorf("error getting notification relay: %w", err)
	}
	return row.toDomain(), nil
}

func (r *RelayRepository) DeleteRelay(ctx context.Context, notificationID, chatID int64) error {
	query := r.db.Rebind(`DELETE FROM notification_relays WHERE notification_id = ? AND chat_id = ?`)
	res, err := r.db.ExecContext(ctx, query, notificationID, chatID)
	if err != nil {
		return fmt.Errorf("error deleting notification relay: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("error reading deleted relay count: %w", err)
	}
	if n == 0 {
		return notification.ErrRelayNotFound
	}
	return nil
}

func (r *RelayRepository) ListRelaysSince(ctx context.Context, chatID int64, since time.Time) ([]*notification.Relay, error) {
	query := r.db.Rebind(`SELECT ` + relayColumns + ` FROM notification_relays
               WHERE chat_id = ? AND relayed_at >= ?
               ORDER BY relayed_at DESC, id DESC`)
	var rows []relayRow
	if err := r.db.SelectContext(ctx, &rows, query, chatID, relayTime(since)); err != nil {
		return nil, fmt.Errorf("error listing notification relays: %w", err)
	}
	relays := make([]*notification.Relay, 0, len(rows))
	for _, row := range rows {
		relays = append(relays, row.toDomain())
	}
	return relays, nil
}

// PruneRelays removes entries relayed before the cutoff except those for the
// notification ids in keep. It returns the number of rows removed.
func (r *RelayRepository) PruneRelays(ctx context.Context, chatID int64, before time.Time, keep []int64) (int64, error) {
	query := `DELETE FROM notification_relays WHERE chat_id = ? AND relayed_at < ?`
	args := []interface{}{chatID, relayTime(before)}
	if len(keep) > 0 {
		var err error
		query, args, err = sqlx.In(query+` AND notification_id NOT IN (?)`, chatID, relayTime(before), keep)
		if err != nil {
			return 0, fmt.Errorf("error building prune query: %w", err)
		}
	}
	res, err := r.db.ExecContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return 0, fmt.Errorf("error pruning notification relays: %w", err)
	}
	return res.RowsAffected()
}
