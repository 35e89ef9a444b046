// internal/infra/sse/client.go
package sse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"campus_notifier/internal/domain/notification"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

var (
	ErrHeartbeatTimeout = errors.New("no event received within the heartbeat timeout")
	ErrRetriesExhausted = errors.New("stream reconnect attempts exhausted")
)

const (
	defaultHeartbeatTimeout = 45 * time.Second
	defaultInitialBackoff   = 1 * time.Second
	defaultMaxBackoff       = 30 * time.Second
)

// Event names carrying a notification payload.
var recordEvents = map[string]bool{
	"notification":         true,
	"notification_created": true,
	"notification_updated": true,
	"attendance":           true,
	"assignment":           true,
	"grade":                true,
	"system":               true,
	"message":              true,
}

// Options configures the stream client.
type Options struct {
	URL              string
	HeaderOnly       bool // Drop ?token= and rely on the Authorization header
	HeartbeatTimeout time.Duration
	InitialBackoff   time.Duration
	MaxBackoff       time.Duration
	MaxRetries       int // 0 retries forever
	HTTPClient       *http.Client
}

// Handlers receive what the stream delivers. Nil handlers are skipped.
// They run on the stream goroutine and must not block for long.
type Handlers struct {
	OnStatus  func(status notification.ConnectionStatus)
	OnRecord  func(rec notification.Record, event string)
	OnRead    func(id int64)
	OnDeleted func(id int64)
	// OnStopped is called once the client gave up on its own: the token was
	// rejected (err wraps notification.ErrUnauthorized) or retries ran out.
	// It is not called after Disable.
	OnStopped func(err error)
}

// Client keeps at most one live event stream.
type Client struct {
	opts     Options
	handlers Handlers
	logger   *logrus.Entry

	lifecycle sync.Mutex // serialises Enable/Disable

	mu          sync.Mutex
	cancel      context.CancelFunc
	done        chan struct{}
	status      notification.ConnectionStatus
	lastEventID string
	retryHint   time.Duration
}

func NewClient(opts Options, handlers Handlers, logger *logrus.Entry) *Client {
	if opts.HeartbeatTimeout <= 0 {
		opts.HeartbeatTimeout = defaultHeartbeatTimeout
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = defaultInitialBackoff
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = defaultMaxBackoff
	}
	if opts.HTTPClient == nil {
		// No client timeout: the response body is a long-lived stream.
		opts.HTTPClient = &http.Client{}
	}
	return &Client{
		opts:     opts,
		handlers: handlers,
		logger:   logger,
		status:   notification.StatusDisconnected,
	}
}

// Enable starts streaming with token. A running connection is torn down and
// its goroutine has exited before the new one starts. An empty token only
// tears down.
func (c *Client) Enable(token string) {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	c.teardown()
	token = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(token), "Bearer "))
	if token == "" {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.mu.Lock()
	c.cancel = cancel
	c.done = done
	c.lastEventID = ""
	c.retryHint = 0
	c.mu.Unlock()

	go func() {
		err := c.run(ctx, token)
		close(done)
		if err != nil && ctx.Err() == nil && c.handlers.OnStopped != nil {
			c.handlers.OnStopped(err)
		}
	}()
}

// Disable closes the connection, if any, and reports disconnected. It returns
// after the stream goroutine has exited.
func (c *Client) Disable() {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	c.teardown()
}

func (c *Client) teardown() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	c.setStatus(notification.StatusDisconnected)
}

func (c *Client) Status() notification.ConnectionStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Client) setStatus(status notification.ConnectionStatus) {
	c.mu.Lock()
	if c.status == status {
		c.mu.Unlock()
		return
	}
	prev := c.status
	c.status = status
	c.mu.Unlock()

	c.logger.WithFields(logrus.Fields{"from": prev, "to": status}).Debug("Stream status changed")
	if c.handlers.OnStatus != nil {
		c.handlers.OnStatus(status)
	}
}

// run is the reconnect loop: connecting -> connected -> error|disconnected,
// then a jittered exponential wait before the next attempt.
func (c *Client) run(ctx context.Context, token string) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.opts.InitialBackoff
	policy.MaxInterval = c.opts.MaxBackoff
	policy.MaxElapsedTime = 0
	policy.Reset()

	failures := 0
	for {
		c.setStatus(notification.StatusConnecting)
		opened, err := c.connect(ctx, token)
		if ctx.Err() != nil {
			return nil
		}

		if errors.Is(err, notification.ErrUnauthorized) {
			c.logger.WithError(err).Warn("Stream rejected the session token")
			c.setStatus(notification.StatusError)
			return err
		}
		if opened {
			policy.Reset()
			failures = 0
		}
		if err != nil {
			c.logger.WithError(err).Warn("Stream failed")
			c.setStatus(notification.StatusError)
		} else {
			c.logger.Info("Stream closed by server")
			c.setStatus(notification.StatusDisconnected)
		}

		failures++
		if c.opts.MaxRetries > 0 && failures > c.opts.MaxRetries {
			c.logger.WithField("attempts", failures).Error("Giving up on the notification stream")
			c.setStatus(notification.StatusDisconnected)
			return fmt.Errorf("%w after %d attempts: %v", ErrRetriesExhausted, failures, err)
		}

		wait := policy.NextBackOff()
		c.mu.Lock()
		if c.retryHint > wait {
			wait = c.retryHint
		}
		c.mu.Unlock()
		c.logger.WithFields(logrus.Fields{"attempt": failures, "wait": wait.String()}).Info("Reconnecting to the notification stream")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// connect runs one connection until it ends. opened reports whether the
// server accepted the stream.
func (c *Client) connect(ctx context.Context, token string) (opened bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.streamURL(token), nil)
	if err != nil {
		return false, fmt.Errorf("failed to build stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Authorization", "Bearer "+token)
	c.mu.Lock()
	if c.lastEventID != "" {
		req.Header.Set("Last-Event-ID", c.lastEventID)
	}
	c.mu.Unlock()

	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("failed to open stream: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return false, fmt.Errorf("%w: stream returned %d", notification.ErrUnauthorized, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return false, fmt.Errorf("stream returned unexpected status %d", resp.StatusCode)
	}

	c.setStatus(notification.StatusConnected)

	var timedOut atomic.Bool
	watchdog := time.AfterFunc(c.opts.HeartbeatTimeout, func() {
		timedOut.Store(true)
		resp.Body.Close()
	})
	defer watchdog.Stop()

	err = readEvents(resp.Body,
		func() { watchdog.Reset(c.opts.HeartbeatTimeout) },
		c.dispatch,
	)
	if timedOut.Load() {
		return true, ErrHeartbeatTimeout
	}
	if err != nil {
		return true, fmt.Errorf("stream read failed: %w", err)
	}
	return true, nil
}

func (c *Client) streamURL(token string) string {
	if c.opts.HeaderOnly {
		return c.opts.URL
	}
	u, err := url.Parse(c.opts.URL)
	if err != nil {
		return c.opts.URL
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String()
}

func (c *Client) dispatch(ev Event) {
	if ev.ID != "" || ev.Retry > 0 {
		c.mu.Lock()
		if ev.ID != "" {
			c.lastEventID = ev.ID
		}
		if ev.Retry > 0 {
			c.retryHint = ev.Retry
		}
		c.mu.Unlock()
	}

	logCtx := c.logger.WithField("event", ev.Name)
	switch {
	case ev.Name == "connected":
		c.setStatus(notification.StatusConnected)
	case ev.Name == "heartbeat":
	case ev.Name == "error":
		logCtx.WithField("data", ev.Data).Warn("Server reported a stream error")
	case ev.Name == "notification_read" || ev.Name == "notification_deleted":
		rec, err := decodeRecord(ev)
		if err != nil {
			logCtx.WithError(err).Warn("Dropping malformed stream event")
			return
		}
		if ev.Name == "notification_read" && c.handlers.OnRead != nil {
			c.handlers.OnRead(rec.ID)
		}
		if ev.Name == "notification_deleted" && c.handlers.OnDeleted != nil {
			c.handlers.OnDeleted(rec.ID)
		}
	case recordEvents[ev.Name]:
		if ev.Name == "message" && strings.TrimSpace(ev.Data) == "" {
			return
		}
		rec, err := decodeRecord(ev)
		if err != nil {
			logCtx.WithError(err).Warn("Dropping malformed stream event")
			return
		}
		if c.handlers.OnRecord != nil {
			c.handlers.OnRecord(rec, ev.Name)
		}
	default:
		logCtx.Debug("Ignoring unknown stream event")
	}
}

func decodeRecord(ev Event) (notification.Record, error) {
	dec := json.NewDecoder(strings.NewReader(ev.Data))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return notification.Record{}, fmt.Errorf("invalid JSON payload: %w", err)
	}
	return notification.Normalize(raw, ev.Name)
}
