package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"campus_notifier/internal/domain/notification"
	"campus_notifier/internal/domain/session"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	mu        sync.Mutex
	pages     map[string]*notification.Page
	listErr   error
	mutateErr error
	prefs     []notification.Preference
	loginTok  string
	tokens    []string
	marked    []int64
	dismissed []int64
}

func (f *fakeAPI) seen(token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens = append(f.tokens, token)
}

func (f *fakeAPI) ListNotifications(ctx context.Context, token string, opts notification.ListOptions) (*notification.Page, error) {
	f.seen(token)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	if p, ok := f.pages[pageKey(opts.Category, opts.Cursor)]; ok {
		return p, nil
	}
	return &notification.Page{}, nil
}

func (f *fakeAPI) MarkRead(ctx context.Context, token string, id int64) error {
	f.seen(token)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.mutateErr != nil {
		return f.mutateErr
	}
	f.marked = append(f.marked, id)
	return nil
}

func (f *fakeAPI) MarkAllRead(ctx context.Context, token string, category *notification.Category) error {
	f.seen(token)
	return f.mutateErr
}

func (f *fakeAPI) Dismiss(ctx context.Context, token string, id int64) error {
	f.seen(token)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.mutateErr != nil {
		return f.mutateErr
	}
	f.dismissed = append(f.dismissed, id)
	return nil
}

func (f *fakeAPI) Preferences(ctx context.Context, token string) ([]notification.Preference, error) {
	f.seen(token)
	return f.prefs, f.mutateErr
}

func (f *fakeAPI) UpdatePreference(ctx context.Context, token string, pref notification.Preference) (*notification.Preference, error) {
	f.seen(token)
	if f.mutateErr != nil {
		return nil, f.mutateErr
	}
	return &pref, nil
}

func (f *fakeAPI) ResetPreferences(ctx context.Context, token string) ([]notification.Preference, error) {
	f.seen(token)
	return f.prefs, f.mutateErr
}

func (f *fakeAPI) Login(ctx context.Context, username, password string) (string, error) {
	if password != "secret" {
		return "", errors.New("Please enter valid credentials")
	}
	return f.loginTok, nil
}

type memTokens struct {
	mu    sync.Mutex
	token string
}

func (m *memTokens) Load() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token == "" {
		return "", session.ErrNoToken
	}
	return m.token, nil
}

func (m *memTokens) Save(token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
	return nil
}

func (m *memTokens) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = ""
	return nil
}

type fakeStream struct {
	mu      sync.Mutex
	events  StreamEvents
	status  notification.ConnectionStatus
	enabled []string
}

func (f *fakeStream) Enable(token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enabled = append(f.enabled, token)
	f.status = notification.StatusConnected
}

func (f *fakeStream) Disable() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = notification.StatusDisconnected
}

func (f *fakeStream) Status() notification.ConnectionStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"username": "student1",
		"exp":      exp.Unix(),
	}).SignedString([]byte("test-key"))
	require.NoError(t, err)
	return tok
}

func newTestManager(t *testing.T, api *fakeAPI, tokens *memTokens) (*SessionManager, *fakeStream) {
	t.Helper()
	stream := &fakeStream{status: notification.StatusDisconnected}
	m := NewSessionManager(api, tokens, func(ev StreamEvents) Stream {
		stream.events = ev
		return stream
	}, SessionConfig{PageSize: 20, MaxRecords: 100}, testLogger())
	return m, stream
}

func TestOpenWithoutToken(t *testing.T) {
	m, _ := newTestManager(t, &fakeAPI{}, &memTokens{})
	_, err := m.Open(context.Background())
	assert.ErrorIs(t, err, session.ErrNoToken)
	assert.Nil(t, m.Current())
}

func TestOpenRejectsExpiredToken(t *testing.T) {
	tokens := &memTokens{token: signedToken(t, time.Now().Add(-time.Hour))}
	api := &fakeAPI{}
	m, _ := newTestManager(t, api, tokens)

	_, err := m.Open(context.Background())
	assert.ErrorIs(t, err, session.ErrTokenExpired)
	assert.Empty(t, tokens.token)
	assert.Empty(t, api.tokens, "no request is made with an expired token")
}

func TestOpenSeedsStoreAndEnablesStream(t *testing.T) {
	token := signedToken(t, time.Now().Add(time.Hour))
	api := &fakeAPI{pages: map[string]*notification.Page{
		"ALL|": {Records: []notification.Record{
			rec(2, notification.CategoryGrade, false),
			rec(1, notification.CategorySystem, true),
		}},
	}}
	m, stream := newTestManager(t, api, &memTokens{token: token})

	sess, err := m.Open(context.Background())
	require.NoError(t, err)
	assert.Same(t, sess, m.Current())
	assert.NotEmpty(t, sess.ID)
	assert.WithinDuration(t, time.Now().Add(time.Hour), sess.ExpiresAt(), time.Minute)

	assert.Equal(t, []int64{2, 1}, ids(sess.Store().Records()))
	assert.Equal(t, 1, sess.Store().UnreadCount())
	assert.Equal(t, []string{token}, stream.enabled)
	assert.Equal(t, notification.StatusConnected, sess.Status())

	again, err := m.Open(context.Background())
	require.NoError(t, err)
	assert.Same(t, sess, again)
}

func TestOpenAcceptsOpaqueToken(t *testing.T) {
	m, _ := newTestManager(t, &fakeAPI{}, &memTokens{token: "opaque-token"})
	sess, err := m.Open(context.Background())
	require.NoError(t, err)
	assert.True(t, sess.ExpiresAt().IsZero())
}

func TestOpenKeepsStreamingWhenFirstLoadFails(t *testing.T) {
	api := &fakeAPI{listErr: errors.New("backend down")}
	m, stream := newTestManager(t, api, &memTokens{token: "tok"})

	sess, err := m.Open(context.Background())
	require.NoError(t, err)
	assert.Contains(t, sess.Store().Err(), "backend down")
	assert.Len(t, stream.enabled, 1)
}

func TestOpenUnauthorizedClearsToken(t *testing.T) {
	tokens := &memTokens{token: "tok"}
	api := &fakeAPI{listErr: notification.ErrUnauthorized}
	m, stream := newTestManager(t, api, tokens)

	_, err := m.Open(context.Background())
	assert.ErrorIs(t, err, notification.ErrUnauthorized)
	assert.Empty(t, tokens.token)
	assert.Empty(t, stream.enabled)
	assert.Nil(t, m.Current())
}

func TestStreamedRecordsReachListenersOnce(t *testing.T) {
	m, stream := newTestManager(t, &fakeAPI{}, &memTokens{token: "tok"})
	var got []int64
	m.AddListener(func(sess *Session, r notification.Record) { got = append(got, r.ID) })

	sess, err := m.Open(context.Background())
	require.NoError(t, err)

	stream.events.OnRecord(rec(5, notification.CategoryGrade, false), "notification")
	stream.events.OnRecord(rec(5, notification.CategoryGrade, false), "notification")
	stream.events.OnRecord(rec(6, notification.CategoryAttendance, false), "attendance")
	assert.Equal(t, []int64{5, 6}, got)
	assert.Equal(t, 2, sess.Store().UnreadCount())

	stream.events.OnRead(5)
	assert.Equal(t, 1, sess.Store().UnreadCount())

	stream.events.OnDeleted(6)
	assert.Equal(t, []int64{5}, ids(sess.Store().Records()))
}

func TestSessionMutationsApplyAfterServerAccepts(t *testing.T) {
	api := &fakeAPI{pages: map[string]*notification.Page{
		"ALL|": {Records: []notification.Record{
			rec(3, notification.CategoryGrade, false),
			rec(2, notification.CategoryGrade, false),
			rec(1, notification.CategorySystem, false),
		}},
	}}
	m, _ := newTestManager(t, api, &memTokens{token: "tok"})
	sess, err := m.Open(context.Background())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, sess.MarkRead(ctx, 3))
	assert.Equal(t, 2, sess.Store().UnreadCount())
	assert.Equal(t, []int64{3}, api.marked)

	require.NoError(t, sess.Dismiss(ctx, 1))
	assert.Equal(t, []int64{3, 2}, ids(sess.Store().Records()))

	grade := notification.CategoryGrade
	n, err := sess.MarkAllRead(ctx, &grade)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Zero(t, sess.Store().UnreadCount())

	for _, tok := range api.tokens {
		assert.Equal(t, "tok", tok)
	}
}

func TestSessionMutationFailureKeepsLocalState(t *testing.T) {
	api := &fakeAPI{pages: map[string]*notification.Page{
		"ALL|": {Records: []notification.Record{rec(1, notification.CategoryGrade, false)}},
	}}
	m, _ := newTestManager(t, api, &memTokens{token: "tok"})
	sess, err := m.Open(context.Background())
	require.NoError(t, err)

	api.mutateErr = errors.New("boom")
	err = sess.MarkRead(context.Background(), 1)
	require.Error(t, err)
	assert.Equal(t, 1, sess.Store().UnreadCount())
	assert.Contains(t, sess.Store().Err(), "boom")
	assert.NotNil(t, m.Current())
}

func TestUnauthorizedMutationLogsOut(t *testing.T) {
	tokens := &memTokens{token: "tok"}
	api := &fakeAPI{}
	m, stream := newTestManager(t, api, tokens)
	var reason error
	m.OnLogout(func(err error) { reason = err })

	sess, err := m.Open(context.Background())
	require.NoError(t, err)

	api.mutateErr = notification.ErrUnauthorized
	err = sess.Dismiss(context.Background(), 1)
	assert.ErrorIs(t, err, notification.ErrUnauthorized)

	assert.Nil(t, m.Current())
	assert.Empty(t, tokens.token)
	assert.ErrorIs(t, reason, notification.ErrUnauthorized)
	assert.Equal(t, notification.StatusDisconnected, stream.Status())
	assert.ErrorIs(t, sess.MarkRead(context.Background(), 1), ErrSessionClosed)
}

func TestStreamAuthFailureLogsOut(t *testing.T) {
	tokens := &memTokens{token: "tok"}
	m, stream := newTestManager(t, &fakeAPI{}, tokens)
	_, err := m.Open(context.Background())
	require.NoError(t, err)

	stream.events.OnStopped(notification.ErrUnauthorized)
	assert.Nil(t, m.Current())
	assert.Empty(t, tokens.token)
}

func TestStreamGivingUpKeepsSessionAndReconnects(t *testing.T) {
	m, stream := newTestManager(t, &fakeAPI{}, &memTokens{token: "tok"})
	sess, err := m.Open(context.Background())
	require.NoError(t, err)

	stream.Disable()
	stream.events.OnStopped(errors.New("retries exhausted"))
	assert.Same(t, sess, m.Current())

	sess.Reconnect()
	assert.Equal(t, []string{"tok", "tok"}, stream.enabled)
	assert.Equal(t, notification.StatusConnected, sess.Status())
}

func TestCloseKeepsToken(t *testing.T) {
	tokens := &memTokens{token: "tok"}
	m, _ := newTestManager(t, &fakeAPI{}, tokens)
	sess, err := m.Open(context.Background())
	require.NoError(t, err)

	m.Close()
	assert.Nil(t, m.Current())
	assert.Equal(t, "tok", tokens.token)
	assert.Equal(t, notification.StatusDisconnected, sess.Status())
	_, err = sess.Preferences(context.Background())
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestCheckClosesSessionWhenTokenRemoved(t *testing.T) {
	tokens := &memTokens{token: "tok"}
	api := &fakeAPI{}
	m, stream := newTestManager(t, api, tokens)
	sess, err := m.Open(context.Background())
	require.NoError(t, err)

	checked, err := m.Check(context.Background())
	require.NoError(t, err)
	assert.Same(t, sess, checked)

	require.NoError(t, tokens.Clear())
	checked, err = m.Check(context.Background())
	assert.ErrorIs(t, err, ErrNoSession)
	assert.Nil(t, checked)
	assert.Nil(t, m.Current())
	assert.Equal(t, notification.StatusDisconnected, stream.Status())
	assert.Equal(t, notification.StatusDisconnected, sess.Status())

	calls := len(api.tokens)
	sess.Reconnect()
	assert.ErrorIs(t, sess.Reload(context.Background()), ErrSessionClosed)
	assert.Equal(t, []string{"tok"}, stream.enabled)
	assert.Len(t, api.tokens, calls)
}

func TestCheckReopensWithReplacedToken(t *testing.T) {
	tokens := &memTokens{token: "old"}
	m, stream := newTestManager(t, &fakeAPI{}, tokens)
	sess, err := m.Open(context.Background())
	require.NoError(t, err)

	require.NoError(t, tokens.Save("new"))
	reopened, err := m.Check(context.Background())
	require.NoError(t, err)
	assert.NotSame(t, sess, reopened)
	assert.Same(t, reopened, m.Current())
	assert.Equal(t, notification.StatusDisconnected, sess.Status())
	assert.Equal(t, []string{"old", "new"}, stream.enabled)
}

func TestCheckWithoutSession(t *testing.T) {
	m, _ := newTestManager(t, &fakeAPI{}, &memTokens{token: "tok"})
	_, err := m.Check(context.Background())
	assert.ErrorIs(t, err, ErrNoSession)
	assert.Nil(t, m.Current())
}

func TestLoginStoresToken(t *testing.T) {
	tokens := &memTokens{}
	exp := time.Now().Add(2 * time.Hour).Truncate(time.Second)
	m, _ := newTestManager(t, &fakeAPI{loginTok: signedToken(t, exp)}, tokens)

	require.Error(t, m.Login(context.Background(), "student1", "wrong"))
	stored, _, err := m.TokenInfo()
	require.NoError(t, err)
	assert.False(t, stored)

	require.NoError(t, m.Login(context.Background(), "student1", "secret"))
	stored, expiresAt, err := m.TokenInfo()
	require.NoError(t, err)
	assert.True(t, stored)
	assert.True(t, exp.Equal(expiresAt))
}
