package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"campus_notifier/internal/app"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

const relayRetention = 30 * 24 * time.Hour

// Jobs is what the scheduler drives; *app.SessionManager, *app.RelayService
// and *app.PreferenceService are wired in by Tasks.
type Jobs interface {
	Resync(ctx context.Context) error
	Digest(ctx context.Context) error
}

// Tasks implements Jobs on the app services.
type Tasks struct {
	Sessions    *app.SessionManager
	Relay       *app.RelayService
	Preferences *app.PreferenceService
}

// Resync drops the session when its token was removed, reconnects a stream
// that gave up, reloads the first page of the active filter and refreshes
// relay preferences.
func (t Tasks) Resync(ctx context.Context) error {
	sess, err := t.Sessions.Check(ctx)
	if err != nil {
		return err
	}
	sess.Reconnect()
	if err := sess.Reload(ctx); err != nil {
		return fmt.Errorf("reload: %w", err)
	}
	if err := t.Preferences.Sync(ctx); err != nil {
		return fmt.Errorf("preference sync: %w", err)
	}
	return nil
}

// Digest sends the unread summary and prunes the relay log.
func (t Tasks) Digest(ctx context.Context) error {
	sess, err := t.Sessions.Check(ctx)
	if err != nil {
		return err
	}
	if err := t.Relay.SendDigest(ctx, sess.Store()); err != nil {
		return err
	}
	if _, err := t.Relay.Prune(ctx, sess.Store(), relayRetention); err != nil {
		return err
	}
	return nil
}

type NotificationScheduler struct {
	cronEngine     *cron.Cron
	jobs           Jobs
	logger         *logrus.Entry
	cronSpecResync string
	cronSpecDigest string
}

func NewNotificationScheduler(jobs Jobs, logger *logrus.Entry, cronSpecResync, cronSpecDigest string) *NotificationScheduler {
	return &NotificationScheduler{
		cronEngine:     cron.New(cron.WithLocation(time.Local)),
		jobs:           jobs,
		logger:         logger,
		cronSpecResync: cronSpecResync,
		cronSpecDigest: cronSpecDigest,
	}
}

// Start registers the jobs and starts the cron engine. A bad cron spec is
// returned instead of being fatal.
func (s *NotificationScheduler) Start() error {
	s.logger.Info("Starting notification scheduler...")

	if _, err := s.cronEngine.AddFunc(s.cronSpecResync, func() {
		s.run("resync", time.Minute, s.jobs.Resync)
	}); err != nil {
		return fmt.Errorf("could not add resync cron job: %w", err)
	}

	if _, err := s.cronEngine.AddFunc(s.cronSpecDigest, func() {
		s.run("digest", 2*time.Minute, s.jobs.Digest)
	}); err != nil {
		return fmt.Errorf("could not add digest cron job: %w", err)
	}

	s.cronEngine.Start()
	s.logger.WithFields(logrus.Fields{"resync": s.cronSpecResync, "digest": s.cronSpecDigest}).Info("Notification scheduler started with jobs.")
	return nil
}

func (s *NotificationScheduler) run(name string, timeout time.Duration, job func(context.Context) error) {
	logCtx := s.logger.WithField("job", name)
	logCtx.Debug("Cron job triggered")
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := job(ctx); err != nil {
		if errors.Is(err, app.ErrNoSession) {
			logCtx.Debug("No active session, skipping")
			return
		}
		logCtx.WithError(err).Error("Cron job failed")
		return
	}
	logCtx.Debug("Cron job finished")
}

func (s *NotificationScheduler) Stop() {
	s.logger.Info("Stopping notification scheduler...")
	ctx := s.cronEngine.Stop()
	<-ctx.Done()
	s.logger.Info("Notification scheduler gracefully stopped.")
}
