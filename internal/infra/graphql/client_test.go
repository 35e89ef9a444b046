package graphql

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"campus_notifier/internal/domain/notification"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type gqlRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables"`
}

// backend answers with the body registered for the first operation name
// found in the query.
func backend(t *testing.T, responses map[string]string, seen *[]gqlRequest, auth *[]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req gqlRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if seen != nil {
			*seen = append(*seen, req)
		}
		if auth != nil {
			*auth = append(*auth, r.Header.Get("Authorization"))
		}
		for op, body := range responses {
			if strings.Contains(req.Query, op) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = io.WriteString(w, body)
				return
			}
		}
		t.Errorf("unexpected query: %s", req.Query)
		w.WriteHeader(http.StatusBadRequest)
	}))
}

func newTestClient(url string) *Client {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return NewClient(url, nil, logrus.NewEntry(l))
}

func TestListNotifications(t *testing.T) {
	var seen []gqlRequest
	var auth []string
	srv := backend(t, map[string]string{
		"query Notifications": `{"data":{"notifications":{
			"edges":[
				{"node":{"id":"Tm90aWZpY2F0aW9uOjQy","category":"GRADE","priority":"HIGH","title":"Grade","isRead":false,"createdAt":"2026-02-10T08:30:00Z"}},
				{"node":{"title":"broken"}},
				{"node":{"id":"7","category":"LIBRARY","isRead":true,"createdAt":"2026-02-09T08:30:00Z"}}
			],
			"pageInfo":{"hasNextPage":true,"endCursor":"YXJyYXljb25uZWN0aW9uOjE="}}}}`,
	}, &seen, &auth)
	defer srv.Close()

	c := newTestClient(srv.URL)
	grade := notification.CategoryGrade
	page, err := c.ListNotifications(context.Background(), "Bearer tok", notification.ListOptions{Category: &grade, Cursor: "abc", PageSize: 20})
	require.NoError(t, err)

	require.Len(t, page.Records, 2)
	assert.Equal(t, int64(42), page.Records[0].ID)
	assert.Equal(t, notification.PriorityHigh, page.Records[0].Priority)
	assert.Equal(t, notification.CategorySystem, page.Records[1].Category)
	assert.True(t, page.HasMore)
	assert.Equal(t, "YXJyYXljb25uZWN0aW9uOjE=", page.Cursor)

	require.Len(t, seen, 1)
	assert.Equal(t, "GRADE", seen[0].Variables["category"])
	assert.Equal(t, "abc", seen[0].Variables["after"])
	assert.Equal(t, float64(20), seen[0].Variables["first"])
	assert.Equal(t, []string{"Bearer tok"}, auth)
}

func TestMutations(t *testing.T) {
	var seen []gqlRequest
	srv := backend(t, map[string]string{
		"MarkNotificationRead":     `{"data":{"markNotificationRead":{"success":true}}}`,
		"MarkAllNotificationsRead": `{"data":{"markAllNotificationsRead":{"success":true}}}`,
		"DismissNotification":      `{"data":{"dismissNotification":{"success":false,"errors":["not yours"]}}}`,
	}, &seen, nil)
	defer srv.Close()

	c := newTestClient(srv.URL)
	ctx := context.Background()

	require.NoError(t, c.MarkRead(ctx, "tok", 5))
	require.NoError(t, c.MarkAllRead(ctx, "tok", nil))
	err := c.Dismiss(ctx, "tok", 6)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not yours")
	assert.NotErrorIs(t, err, notification.ErrUnauthorized)

	require.Len(t, seen, 3)
	assert.Equal(t, float64(5), seen[0].Variables["id"])
	assert.Nil(t, seen[1].Variables["category"])
}

func TestAuthErrorsMapToUnauthorized(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "graphql error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.WriteString(w, `{"data":null,"errors":[{"message":"Signature has expired"}]}`)
			},
		},
		{
			name: "http 401",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = io.WriteString(w, "nope")
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			_, err := newTestClient(srv.URL).ListNotifications(context.Background(), "tok", notification.ListOptions{})
			assert.ErrorIs(t, err, notification.ErrUnauthorized)
		})
	}
}

func TestPermissionErrorsKeepTheSession(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "graphql permission error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.WriteString(w, `{"data":null,"errors":[{"message":"Unauthorized to dismiss this notification"}]}`)
			},
		},
		{
			name: "http 403",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusForbidden)
				_, _ = io.WriteString(w, "forbidden")
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			err := newTestClient(srv.URL).Dismiss(context.Background(), "tok", 6)
			require.Error(t, err)
			assert.NotErrorIs(t, err, notification.ErrUnauthorized)
		})
	}
}

func TestPreferences(t *testing.T) {
	srv := backend(t, map[string]string{
		"query NotificationPreferences":      `{"data":{"notificationPreferences":[{"category":"GRADE","isEnabled":true,"isSseEnabled":true,"isEmailEnabled":false}]}}`,
		"mutation UpdateNotificationPreference": `{"data":{"updateNotificationPreference":{"preference":{"category":"GRADE","isEnabled":true,"isSseEnabled":false,"isEmailEnabled":false}}}}`,
		"mutation ResetNotificationPreferences": `{"data":{"resetNotificationPreferences":{"preferences":[{"category":"ATTENDANCE","isEnabled":true,"isSseEnabled":true,"isEmailEnabled":true}]}}}`,
	}, nil, nil)
	defer srv.Close()

	c := newTestClient(srv.URL)
	ctx := context.Background()

	prefs, err := c.Preferences(ctx, "tok")
	require.NoError(t, err)
	assert.Equal(t, []notification.Preference{{Category: notification.CategoryGrade, IsEnabled: true, IsSSEEnabled: true}}, prefs)

	updated, err := c.UpdatePreference(ctx, "tok", notification.Preference{Category: notification.CategoryGrade, IsEnabled: true})
	require.NoError(t, err)
	assert.False(t, updated.IsSSEEnabled)

	reset, err := c.ResetPreferences(ctx, "tok")
	require.NoError(t, err)
	require.Len(t, reset, 1)
	assert.True(t, reset[0].IsEmailEnabled)
}

func TestLogin(t *testing.T) {
	var auth []string
	srv := backend(t, map[string]string{
		"TokenAuth": `{"data":{"tokenAuth":{"token":"jwt-token"}}}`,
	}, nil, &auth)
	defer srv.Close()

	token, err := newTestClient(srv.URL).Login(context.Background(), "student1", "secret")
	require.NoError(t, err)
	assert.Equal(t, "jwt-token", token)
	assert.Equal(t, []string{""}, auth)
}
