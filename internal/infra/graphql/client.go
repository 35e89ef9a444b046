// internal/infra/graphql/client.go
package graphql

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"campus_notifier/internal/domain/notification"

	"github.com/machinebox/graphql"
	"github.com/sirupsen/logrus"
)

const defaultRequestTimeout = 15 * time.Second

// Error fragments the backend uses for rejected or expired tokens. Permission
// errors on a single resource (403, "not allowed") are not token failures.
var authErrorMarkers = []string{
	"status code: 401",
	"not authenticated",
	"authentication credentials were not provided",
	"signature has expired",
	"error decoding signature",
	"invalid token",
	"login required",
}

// Client implements notification.API on top of the college GraphQL backend.
type Client struct {
	gql    *graphql.Client
	logger *logrus.Entry
}

var _ notification.API = (*Client)(nil)

func NewClient(endpoint string, httpClient *http.Client, logger *logrus.Entry) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRequestTimeout}
	}
	gql := graphql.NewClient(endpoint, graphql.WithHTTPClient(httpClient))
	gql.Log = func(s string) { logger.Trace(s) }
	return &Client{gql: gql, logger: logger}
}

func (c *Client) run(ctx context.Context, token, op string, req *graphql.Request, resp interface{}) error {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+strings.TrimPrefix(token, "Bearer "))
	}
	if err := c.gql.Run(ctx, req, resp); err != nil {
		if isAuthError(err) {
			return fmt.Errorf("%s: %w (%v)", op, notification.ErrUnauthorized, err)
		}
		return fmt.Errorf("%s failed: %w", op, err)
	}
	return nil
}

func isAuthError(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, marker := range authErrorMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

const notificationsQuery = `
query Notifications($category: NotificationCategory, $after: String, $first: Int) {
  notifications(category: $category, after: $after, first: $first) {
    edges {
      node { id category priority title message isRead createdAt actionUrl actorName }
    }
    pageInfo { hasNextPage endCursor }
  }
}`

func (c *Client) ListNotifications(ctx context.Context, token string, opts notification.ListOptions) (*notification.Page, error) {
	req := graphql.NewRequest(notificationsQuery)
	if opts.Category != nil {
		req.Var("category", string(*opts.Category))
	} else {
		req.Var("category", nil)
	}
	if opts.Cursor != "" {
		req.Var("after", opts.Cursor)
	} else {
		req.Var("after", nil)
	}
	if opts.PageSize > 0 {
		req.Var("first", opts.PageSize)
	}

	var resp struct {
		Notifications struct {
			Edges []struct {
				Node map[string]interface{} `json:"node"`
			} `json:"edges"`
			PageInfo struct {
				HasNextPage bool   `json:"hasNextPage"`
				EndCursor   string `json:"endCursor"`
			} `json:"pageInfo"`
		} `json:"notifications"`
	}
	if err := c.run(ctx, token, "notifications query", req, &resp); err != nil {
		return nil, err
	}

	page := &notification.Page{
		Records: make([]notification.Record, 0, len(resp.Notifications.Edges)),
		HasMore: resp.Notifications.PageInfo.HasNextPage,
	}
	if page.HasMore {
		page.Cursor = resp.Notifications.PageInfo.EndCursor
	}
	for _, edge := range resp.Notifications.Edges {
		rec, err := notification.Normalize(edge.Node, "")
		if err != nil {
			c.logger.WithError(err).Warn("Skipping notification node without id")
			continue
		}
		page.Records = append(page.Records, rec)
	}
	return page, nil
}

type mutationResult struct {
	Success bool     `json:"success"`
	Errors  []string `json:"errors"`
}

func (m mutationResult) err(op string) error {
	if m.Success {
		return nil
	}
	if len(m.Errors) > 0 {
		return fmt.Errorf("%s rejected: %s", op, strings.Join(m.Errors, "; "))
	}
	return fmt.Errorf("%s rejected by backend", op)
}

const markReadMutation = `
mutation MarkNotificationRead($id: ID!) {
  markNotificationRead(id: $id) { success errors }
}`

func (c *Client) MarkRead(ctx context.Context, token string, id int64) error {
	req := graphql.NewRequest(markReadMutation)
	req.Var("id", id)
	var resp struct {
		Result mutationResult `json:"markNotificationRead"`
	}
	if err := c.run(ctx, token, "markNotificationRead", req, &resp); err != nil {
		return err
	}
	return resp.Result.err("markNotificationRead")
}

const markAllReadMutation = `
mutation MarkAllNotificationsRead($category: NotificationCategory) {
  markAllNotificationsRead(category: $category) { success errors }
}`

func (c *Client) MarkAllRead(ctx context.Context, token string, category *notification.Category) error {
	req := graphql.NewRequest(markAllReadMutation)
	if category != nil {
		req.Var("category", string(*category))
	} else {
		req.Var("category", nil)
	}
	var resp struct {
		Result mutationResult `json:"markAllNotificationsRead"`
	}
	if err := c.run(ctx, token, "markAllNotificationsRead", req, &resp); err != nil {
		return err
	}
	return resp.Result.err("markAllNotificationsRead")
}

const dismissMutation = `
mutation DismissNotification($id: ID!) {
  dismissNotification(id: $id) { success errors }
}`

func (c *Client) Dismiss(ctx context.Context, token string, id int64) error {
	req := graphql.NewRequest(dismissMutation)
	req.Var("id", id)
	var resp struct {
		Result mutationResult `json:"dismissNotification"`
	}
	if err := c.run(ctx, token, "dismissNotification", req, &resp); err != nil {
		return err
	}
	return resp.Result.err("dismissNotification")
}

type preferenceNode struct {
	Category       string `json:"category"`
	IsEnabled      bool   `json:"isEnabled"`
	IsSSEEnabled   bool   `json:"isSseEnabled"`
	IsEmailEnabled bool   `json:"isEmailEnabled"`
}

func (p preferenceNode) toDomain() notification.Preference {
	cat, _ := notification.ParseCategory(p.Category)
	return notification.Preference{
		Category:       cat,
		IsEnabled:      p.IsEnabled,
		IsSSEEnabled:   p.IsSSEEnabled,
		IsEmailEnabled: p.IsEmailEnabled,
	}
}

func toDomainPreferences(nodes []preferenceNode) []notification.Preference {
	prefs := make([]notification.Preference, 0, len(nodes))
	for _, n := range nodes {
		prefs = append(prefs, n.toDomain())
	}
	return prefs
}

const preferencesQuery = `
query NotificationPreferences {
  notificationPreferences { category isEnabled isSseEnabled isEmailEnabled }
}`

func (c *Client) Preferences(ctx context.Context, token string) ([]notification.Preference, error) {
	req := graphql.NewRequest(preferencesQuery)
	var resp struct {
		Preferences []preferenceNode `json:"notificationPreferences"`
	}
	if err := c.run(ctx, token, "notificationPreferences query", req, &resp); err != nil {
		return nil, err
	}
	return toDomainPreferences(resp.Preferences), nil
}

const updatePreferenceMutation = `
mutation UpdateNotificationPreference($category: NotificationCategory!, $isEnabled: Boolean!, $isSseEnabled: Boolean!, $isEmailEnabled: Boolean!) {
  updateNotificationPreference(category: $category, isEnabled: $isEnabled, isSseEnabled: $isSseEnabled, isEmailEnabled: $isEmailEnabled) {
    preference { category isEnabled isSseEnabled isEmailEnabled }
  }
}`

func (c *Client) UpdatePreference(ctx context.Context, token string, pref notification.Preference) (*notification.Preference, error) {
	req := graphql.NewRequest(updatePreferenceMutation)
	req.Var("category", string(pref.Category))
	req.Var("isEnabled", pref.IsEnabled)
	req.Var("isSseEnabled", pref.IsSSEEnabled)
	req.Var("isEmailEnabled", pref.IsEmailEnabled)
	var resp struct {
		Update struct {
			Preference *preferenceNode `json:"preference"`
		} `json:"updateNotificationPreference"`
	}
	if err := c.run(ctx, token, "updateNotificationPreference", req, &resp); err != nil {
		return nil, err
	}
	if resp.Update.Preference == nil {
		return nil, fmt.Errorf("updateNotificationPreference returned no preference for %s", pref.Category)
	}
	updated := resp.Update.Preference.toDomain()
	return &updated, nil
}

const resetPreferencesMutation = `
mutation ResetNotificationPreferences {
  resetNotificationPreferences { preferences { category isEnabled isSseEnabled isEmailEnabled } }
}`

func (c *Client) ResetPreferences(ctx context.Context, token string) ([]notification.Preference, error) {
	req := graphql.NewRequest(resetPreferencesMutation)
	var resp struct {
		Reset struct {
			Preferences []preferenceNode `json:"preferences"`
		} `json:"resetNotificationPreferences"`
	}
	if err := c.run(ctx, token, "resetNotificationPreferences", req, &resp); err != nil {
		return nil, err
	}
	return toDomainPreferences(resp.Reset.Preferences), nil
}

const tokenAuthMutation = `
mutation TokenAuth($username: String!, $password: String!) {
  tokenAuth(username: $username, password: $password) { token }
}`

func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	req := graphql.NewRequest(tokenAuthMutation)
	req.Var("username", username)
	req.Var("password", password)
	var resp struct {
		TokenAuth struct {
			Token string `json:"token"`
		} `json:"tokenAuth"`
	}
	if err := c.run(ctx, "", "tokenAuth", req, &resp); err != nil {
		return "", err
	}
	if resp.TokenAuth.Token == "" {
		return "", fmt.Errorf("tokenAuth returned an empty token")
	}
	return resp.TokenAuth.Token, nil
}
