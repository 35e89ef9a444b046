// internal/app/store.go
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"campus_notifier/internal/domain/notification"

	"github.com/sirupsen/logrus"
)

// ErrStaleLoad is returned by Load when a newer load started while this one
// was in flight. Its result was discarded.
var ErrStaleLoad = errors.New("notification load superseded by a newer request")

// PageFetcher fetches one page of notifications for the current session.
type PageFetcher interface {
	FetchPage(ctx context.Context, opts notification.ListOptions) (*notification.Page, error)
}

// NotificationStore is the in-memory notification list of one session.
// Records are kept newest first and are unique by ID.
type NotificationStore struct {
	mu sync.Mutex

	fetcher    PageFetcher
	pageSize   int
	maxRecords int // 0 means unbounded
	logger     *logrus.Entry

	records []notification.Record
	unread  int

	filter     *notification.Category
	cursor     string
	hasMore    bool
	loading    bool
	generation uint64
	lastErr    string
}

func NewNotificationStore(fetcher PageFetcher, pageSize, maxRecords int, logger *logrus.Entry) *NotificationStore {
	return &NotificationStore{
		fetcher:    fetcher,
		pageSize:   pageSize,
		maxRecords: maxRecords,
		logger:     logger,
	}
}

// Load fetches a page. Switching the category (or passing an empty cursor)
// replaces the list; a cursor for the active category appends to it.
// Failures keep the already loaded records and set Err.
func (s *NotificationStore) Load(ctx context.Context, category *notification.Category, cursor string) error {
	s.mu.Lock()
	s.generation++
	gen := s.generation
	replace := cursor == "" || !sameCategory(s.filter, category)
	if replace {
		cursor = ""
	}
	s.loading = true
	s.mu.Unlock()

	logCtx := s.logger.WithFields(logrus.Fields{"generation": gen, "category": categoryLabel(category), "append": !replace})
	logCtx.Debug("Loading notifications page")

	page, err := s.fetcher.FetchPage(ctx, notification.ListOptions{
		Category: category,
		Cursor:   cursor,
		PageSize: s.pageSize,
	})

	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.generation {
		logCtx.Debug("Discarding stale notifications page")
		return ErrStaleLoad
	}
	s.loading = false

	if err != nil {
		s.lastErr = err.Error()
		logCtx.WithError(err).Warn("Failed to load notifications")
		return fmt.Errorf("failed to load notifications: %w", err)
	}

	s.lastErr = ""
	s.filter = copyCategory(category)
	s.cursor = page.Cursor
	s.hasMore = page.HasMore

	if replace {
		s.records = make([]notification.Record, 0, len(page.Records))
	}
	for _, rec := range page.Records {
		if i := s.indexOf(rec.ID); i >= 0 {
			s.records[i] = mergeRecord(s.records[i], rec)
			continue
		}
		s.records = append(s.records, rec)
	}
	s.recount()
	s.evict(0)

	logCtx.WithFields(logrus.Fields{"received": len(page.Records), "total": len(s.records), "has_more": s.hasMore}).Debug("Notifications page applied")
	return nil
}

// LoadMore fetches the next page of the active category.
// It is a no-op when the server reported no more pages.
func (s *NotificationStore) LoadMore(ctx context.Context) error {
	s.mu.Lock()
	if !s.hasMore || s.cursor == "" {
		s.mu.Unlock()
		return nil
	}
	category := copyCategory(s.filter)
	cursor := s.cursor
	s.mu.Unlock()
	return s.Load(ctx, category, cursor)
}

// Receive applies a streamed record. A new ID is inserted at the head and
// inserted is true; a known ID is updated in place and IsRead never goes back
// to false.
func (s *NotificationStore) Receive(rec notification.Record) (inserted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if i := s.indexOf(rec.ID); i >= 0 {
		old := s.records[i]
		merged := mergeRecord(old, rec)
		if merged != old {
			s.records[i] = merged
			if !old.IsRead && merged.IsRead {
				s.unread--
			}
		}
		return false
	}

	s.records = append(s.records, notification.Record{})
	copy(s.records[1:], s.records)
	s.records[0] = rec
	if !rec.IsRead {
		s.unread++
	}
	s.evict(1)
	return true
}

// MarkRead marks one record read. It reports whether anything changed.
func (s *NotificationStore) MarkRead(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(id)
	if i < 0 || s.records[i].IsRead {
		return false
	}
	s.records[i].IsRead = true
	s.unread--
	return true
}

// MarkAllRead marks every record read, or only those of category when it is
// not nil. It returns the number of records that changed.
func (s *NotificationStore) MarkAllRead(category *notification.Category) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := 0
	for i := range s.records {
		if s.records[i].IsRead {
			continue
		}
		if category != nil && s.records[i].Category != *category {
			continue
		}
		s.records[i].IsRead = true
		changed++
	}
	s.recount()
	return changed
}

// Dismiss removes a record. ok is false when the ID is unknown.
func (s *NotificationStore) Dismiss(id int64) (removed notification.Record, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(id)
	if i < 0 {
		return notification.Record{}, false
	}
	removed = s.records[i]
	s.records = append(s.records[:i], s.records[i+1:]...)
	if !removed.IsRead {
		s.unread--
	}
	return removed, true
}

// SetError records a request failure that happened outside Load.
func (s *NotificationStore) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		s.lastErr = ""
		return
	}
	s.lastErr = err.Error()
}

func (s *NotificationStore) Get(id int64) (notification.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexOf(id); i >= 0 {
		return s.records[i], true
	}
	return notification.Record{}, false
}

// Records returns a copy of the list, newest first.
func (s *NotificationStore) Records() []notification.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]notification.Record, len(s.records))
	copy(out, s.records)
	return out
}

func (s *NotificationStore) UnreadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unread
}

// UnreadByCategory counts unread records per category. Categories without
// unread records are omitted.
func (s *NotificationStore) UnreadByCategory() map[notification.Category]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[notification.Category]int)
	for _, rec := range s.records {
		if !rec.IsRead {
			counts[rec.Category]++
		}
	}
	return counts
}

func (s *NotificationStore) Filter() *notification.Category {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyCategory(s.filter)
}

func (s *NotificationStore) HasMore() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasMore
}

func (s *NotificationStore) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

// Err returns the last request error, or "" after a successful load.
func (s *NotificationStore) Err() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func (s *NotificationStore) indexOf(id int64) int {
	for i := range s.records {
		if s.records[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *NotificationStore) recount() {
	s.unread = 0
	for _, rec := range s.records {
		if !rec.IsRead {
			s.unread++
		}
	}
}

// evict trims the list to maxRecords, dropping the oldest read records first.
// The first pinned records are never dropped.
func (s *NotificationStore) evict(pinned int) {
	if s.maxRecords <= 0 || len(s.records) <= s.maxRecords {
		return
	}
	excess := len(s.records) - s.maxRecords
	kept := s.records[:0]
	for i := len(s.records) - 1; i >= pinned && excess > 0; i-- {
		if s.records[i].IsRead {
			s.records[i].ID = 0 // marked for removal
			excess--
		}
	}
	for _, rec := range s.records {
		if rec.ID != 0 {
			kept = append(kept, rec)
		}
	}
	s.records = kept
	if len(s.records) > s.maxRecords {
		s.records = s.records[:s.maxRecords]
	}
	s.recount()
}

func mergeRecord(old, incoming notification.Record) notification.Record {
	incoming.IsRead = incoming.IsRead || old.IsRead
	return incoming
}

func sameCategory(a, b *notification.Category) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func copyCategory(c *notification.Category) *notification.Category {
	if c == nil {
		return nil
	}
	v := *c
	return &v
}

func categoryLabel(c *notification.Category) string {
	if c == nil {
		return "ALL"
	}
	return string(*c)
}
