// internal/app/session.go
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"campus_notifier/internal/domain/notification"
	"campus_notifier/internal/domain/session"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var ErrSessionClosed = errors.New("session is closed")

// Stream is the live notification transport owned by a session.
type Stream interface {
	Enable(token string)
	Disable()
	Status() notification.ConnectionStatus
}

// StreamEvents are the callbacks a Stream reports to.
type StreamEvents struct {
	OnStatus  func(status notification.ConnectionStatus)
	OnRecord  func(rec notification.Record, event string)
	OnRead    func(id int64)
	OnDeleted func(id int64)
	OnStopped func(err error)
}

// StreamFactory builds the transport for a new session.
type StreamFactory func(events StreamEvents) Stream

// RecordListener is told about every streamed record that was new to the store.
type RecordListener func(sess *Session, rec notification.Record)

type SessionConfig struct {
	PageSize   int
	MaxRecords int
}

// SessionManager owns the create/destroy lifecycle of the single active session.
type SessionManager struct {
	api       notification.API
	tokens    session.TokenStore
	newStream StreamFactory
	cfg       SessionConfig
	logger    *logrus.Entry

	mu        sync.Mutex
	current   *Session
	listeners []RecordListener
	onLogout  func(reason error)
}

func NewSessionManager(api notification.API, tokens session.TokenStore, newStream StreamFactory, cfg SessionConfig, logger *logrus.Entry) *SessionManager {
	return &SessionManager{
		api:       api,
		tokens:    tokens,
		newStream: newStream,
		cfg:       cfg,
		logger:    logger,
	}
}

// AddListener registers l for sessions opened afterwards.
func (m *SessionManager) AddListener(l RecordListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

// OnLogout sets the callback run after an auth failure tore the session down.
func (m *SessionManager) OnLogout(fn func(reason error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onLogout = fn
}

// Login exchanges credentials for a token and stores it.
func (m *SessionManager) Login(ctx context.Context, username, password string) error {
	token, err := m.api.Login(ctx, username, password)
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}
	if err := m.tokens.Save(token); err != nil {
		return err
	}
	m.logger.WithField("username", username).Info("Session token stored")
	return nil
}

// TokenInfo reports whether a token is stored and when it expires (zero when
// the token carries no expiry).
func (m *SessionManager) TokenInfo() (stored bool, expiresAt time.Time, err error) {
	token, err := m.tokens.Load()
	if err != nil {
		if errors.Is(err, session.ErrNoToken) {
			return false, time.Time{}, nil
		}
		return false, time.Time{}, err
	}
	return true, tokenExpiry(token), nil
}

// Current returns the open session or nil.
func (m *SessionManager) Current() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Open starts a session from the stored token: the store is seeded with the
// first page and the stream is enabled. An already open session is returned
// as is.
func (m *SessionManager) Open(ctx context.Context) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil {
		return m.current, nil
	}

	token, err := m.tokens.Load()
	if err != nil {
		return nil, err
	}
	expiresAt := tokenExpiry(token)
	if !expiresAt.IsZero() && !time.Now().Before(expiresAt) {
		if clearErr := m.tokens.Clear(); clearErr != nil {
			m.logger.WithError(clearErr).Warn("Failed to clear expired token")
		}
		return nil, fmt.Errorf("%w (expired at %s)", session.ErrTokenExpired, expiresAt.Format(time.RFC3339))
	}

	sess := &Session{
		ID:        uuid.NewString(),
		token:     token,
		expiresAt: expiresAt,
		api:       m.api,
		manager:   m,
		listeners: append([]RecordListener(nil), m.listeners...),
	}
	sess.logger = m.logger.WithField("session_id", sess.ID)
	sess.store = NewNotificationStore(tokenFetcher{api: m.api, token: token}, m.cfg.PageSize, m.cfg.MaxRecords, sess.logger.WithField("component", "store"))
	sess.stream = m.newStream(StreamEvents{
		OnStatus:  sess.onStatus,
		OnRecord:  sess.onRecord,
		OnRead:    sess.onRead,
		OnDeleted: sess.onDeleted,
		OnStopped: sess.onStreamStopped,
	})

	if err := sess.store.Load(ctx, nil, ""); err != nil {
		if errors.Is(err, notification.ErrUnauthorized) {
			if clearErr := m.tokens.Clear(); clearErr != nil {
				m.logger.WithError(clearErr).Warn("Failed to clear rejected token")
			}
			return nil, err
		}
		sess.logger.WithError(err).Warn("Initial notification load failed, streaming anyway")
	}

	sess.stream.Enable(token)
	m.current = sess
	sess.logger.WithFields(logrus.Fields{"unread": sess.store.UnreadCount(), "expires_at": expiresAt}).Info("Session opened")
	return sess, nil
}

// Close tears the current session down but keeps the stored token.
func (m *SessionManager) Close() {
	m.mu.Lock()
	sess := m.current
	m.current = nil
	m.mu.Unlock()

	if sess != nil {
		sess.close()
	}
}

// Logout tears the session down and forgets the token.
func (m *SessionManager) Logout(reason error) {
	m.mu.Lock()
	sess := m.current
	m.current = nil
	onLogout := m.onLogout
	m.mu.Unlock()

	if sess != nil {
		sess.close()
	}
	if err := m.tokens.Clear(); err != nil {
		m.logger.WithError(err).Error("Failed to clear session token")
	}
	m.logger.WithError(reason).Warn("Logged out")
	if onLogout != nil {
		onLogout(reason)
	}
}

// logoutSession logs out only if sess is still the current session.
func (m *SessionManager) logoutSession(sess *Session, reason error) {
	m.mu.Lock()
	isCurrent := m.current == sess
	m.mu.Unlock()
	if isCurrent {
		m.Logout(reason)
	}
}

// closeSession closes sess only if it is still the current session.
func (m *SessionManager) closeSession(sess *Session) {
	m.mu.Lock()
	if m.current != sess {
		m.mu.Unlock()
		return
	}
	m.current = nil
	m.mu.Unlock()
	sess.close()
}

// Check reconciles the open session with the token store. A removed token
// closes the session and a replaced one reopens it with the new token. It
// returns the session left open, or ErrNoSession.
func (m *SessionManager) Check(ctx context.Context) (*Session, error) {
	sess := m.Current()
	if sess == nil {
		return nil, ErrNoSession
	}

	token, err := m.tokens.Load()
	switch {
	case errors.Is(err, session.ErrNoToken):
		sess.logger.Info("Session token removed, closing session")
		m.closeSession(sess)
		return nil, ErrNoSession
	case err != nil:
		sess.logger.WithError(err).Warn("Failed to read session token, keeping session")
		return sess, nil
	case token != sess.token:
		sess.logger.Info("Session token replaced, reopening session")
		m.closeSession(sess)
		return m.Open(ctx)
	}
	return sess, nil
}

// Session is one authenticated notification session.
type Session struct {
	ID string

	token     string
	expiresAt time.Time
	api       notification.API
	store     *NotificationStore
	stream    Stream
	manager   *SessionManager
	listeners []RecordListener
	logger    *logrus.Entry
	closed    atomic.Bool
}

func (s *Session) Store() *NotificationStore { return s.store }

func (s *Session) ExpiresAt() time.Time { return s.expiresAt }

// Status is the stream connection status; disconnected once closed.
func (s *Session) Status() notification.ConnectionStatus {
	if s.closed.Load() {
		return notification.StatusDisconnected
	}
	return s.stream.Status()
}

// Reconnect re-enables a stream that gave up.
func (s *Session) Reconnect() {
	if s.closed.Load() {
		return
	}
	if s.stream.Status() == notification.StatusDisconnected {
		s.logger.Info("Re-enabling notification stream")
		s.stream.Enable(s.token)
	}
}

func (s *Session) close() {
	if s.closed.Swap(true) {
		return
	}
	s.stream.Disable()
	s.logger.Info("Session closed")
}

func (s *Session) onStatus(status notification.ConnectionStatus) {
	s.logger.WithField("status", status).Info("Notification stream status")
}

func (s *Session) onRecord(rec notification.Record, event string) {
	if s.closed.Load() {
		return
	}
	if !s.store.Receive(rec) {
		return
	}
	s.logger.WithFields(logrus.Fields{
		"notification_id": rec.ID,
		"category":        rec.Category,
		"event":           event,
	}).Debug("Notification received")
	for _, l := range s.listeners {
		l(s, rec)
	}
}

func (s *Session) onRead(id int64) {
	if !s.closed.Load() {
		s.store.MarkRead(id)
	}
}

func (s *Session) onDeleted(id int64) {
	if !s.closed.Load() {
		s.store.Dismiss(id)
	}
}

func (s *Session) onStreamStopped(err error) {
	if errors.Is(err, notification.ErrUnauthorized) {
		s.manager.logoutSession(s, err)
		return
	}
	s.logger.WithError(err).Error("Notification stream stopped")
}

// fail records a request failure; a rejected token ends the session.
func (s *Session) fail(op string, err error) error {
	if errors.Is(err, ErrStaleLoad) {
		return err
	}
	s.store.SetError(err)
	if errors.Is(err, notification.ErrUnauthorized) {
		s.manager.logoutSession(s, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// SwitchCategory loads the first page of category (nil for all).
func (s *Session) SwitchCategory(ctx context.Context, category *notification.Category) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	if err := s.store.Load(ctx, category, ""); err != nil {
		return s.fail("switch category", err)
	}
	return nil
}

// Reload refetches the first page of the active category.
func (s *Session) Reload(ctx context.Context) error {
	return s.SwitchCategory(ctx, s.store.Filter())
}

func (s *Session) LoadMore(ctx context.Context) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	if err := s.store.LoadMore(ctx); err != nil {
		return s.fail("load more", err)
	}
	return nil
}

// MarkRead marks id read on the backend, then locally.
func (s *Session) MarkRead(ctx context.Context, id int64) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	if err := s.api.MarkRead(ctx, s.token, id); err != nil {
		return s.fail("mark read", err)
	}
	s.store.MarkRead(id)
	return nil
}

// MarkAllRead marks everything (or one category) read and returns how many
// local records changed.
func (s *Session) MarkAllRead(ctx context.Context, category *notification.Category) (int, error) {
	if s.closed.Load() {
		return 0, ErrSessionClosed
	}
	if err := s.api.MarkAllRead(ctx, s.token, category); err != nil {
		return 0, s.fail("mark all read", err)
	}
	return s.store.MarkAllRead(category), nil
}

func (s *Session) Dismiss(ctx context.Context, id int64) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	if err := s.api.Dismiss(ctx, s.token, id); err != nil {
		return s.fail("dismiss", err)
	}
	s.store.Dismiss(id)
	return nil
}

func (s *Session) Preferences(ctx context.Context) ([]notification.Preference, error) {
	if s.closed.Load() {
		return nil, ErrSessionClosed
	}
	prefs, err := s.api.Preferences(ctx, s.token)
	if err != nil {
		return nil, s.fail("load preferences", err)
	}
	return prefs, nil
}

func (s *Session) UpdatePreference(ctx context.Context, pref notification.Preference) (*notification.Preference, error) {
	if s.closed.Load() {
		return nil, ErrSessionClosed
	}
	updated, err := s.api.UpdatePreference(ctx, s.token, pref)
	if err != nil {
		return nil, s.fail("update preference", err)
	}
	return updated, nil
}

func (s *Session) ResetPreferences(ctx context.Context) ([]notification.Preference, error) {
	if s.closed.Load() {
		return nil, ErrSessionClosed
	}
	prefs, err := s.api.ResetPreferences(ctx, s.token)
	if err != nil {
		return nil, s.fail("reset preferences", err)
	}
	return prefs, nil
}

type tokenFetcher struct {
	api   notification.API
	token string
}

func (f tokenFetcher) FetchPage(ctx context.Context, opts notification.ListOptions) (*notification.Page, error) {
	return f.api.ListNotifications(ctx, f.token, opts)
}

// tokenExpiry reads the exp claim without verifying the signature; the
// backend verifies. Opaque tokens report a zero time.
func tokenExpiry(token string) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}
