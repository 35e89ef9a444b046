package main

import (
	"errors"
	"fmt"
	"os"

	"campus_notifier/internal/app"
	"campus_notifier/internal/domain/notification"
	"campus_notifier/internal/infra/config"
	"campus_notifier/internal/infra/credential"
	"campus_notifier/internal/infra/graphql"
	"campus_notifier/internal/infra/logger"
	"campus_notifier/internal/infra/sse"

	"github.com/sirupsen/logrus"
)

func main() {
	command := "run"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	var cfg *config.AppConfig
	var err error
	if command == "run" {
		cfg, err = config.Load()
	} else {
		cfg, err = config.LoadBase()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Could not load application configuration: %v\n", err)
		os.Exit(1)
	}

	if command == "run" {
		logger.Init(cfg)
	} else {
		logger.InitWithOutput(cfg, os.Stderr)
	}
	mainLogger := logger.Component("main")

	ring, err := credential.OpenKeyring(cfg.KeyringService, cfg.KeyringFileDir)
	if err != nil {
		mainLogger.WithError(err).Fatal("Could not open keyring")
	}
	sessions := newSessionManager(cfg, credential.NewTokenStore(ring))

	if command == "run" {
		if err := runBot(cfg, sessions, mainLogger); err != nil {
			mainLogger.WithError(err).Fatal("Notifier stopped with error")
		}
		return
	}

	cli := &commandLine{sessions: sessions, out: os.Stdout}
	if err := cli.run(os.Args); err != nil {
		if errors.Is(err, errHelp) {
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// newSessionManager wires the GraphQL client and the SSE stream factory.
func newSessionManager(cfg *config.AppConfig, tokens *credential.TokenStore) *app.SessionManager {
	api := graphql.NewClient(cfg.APIURL, nil, logger.Component("graphql"))
	streamLogger := logger.Component("sse")

	newStream := func(ev app.StreamEvents) app.Stream {
		return sse.NewClient(sse.Options{
			URL:              cfg.StreamURL,
			HeaderOnly:       cfg.StreamHeaderOnly,
			HeartbeatTimeout: cfg.StreamHeartbeatTimeout,
			InitialBackoff:   cfg.StreamBackoffInitial,
			MaxBackoff:       cfg.StreamBackoffMax,
			MaxRetries:       cfg.StreamMaxRetries,
		}, sse.Handlers{
			OnStatus:  ev.OnStatus,
			OnRecord:  ev.OnRecord,
			OnRead:    ev.OnRead,
			OnDeleted: ev.OnDeleted,
			OnStopped: ev.OnStopped,
		}, streamLogger)
	}

	return app.NewSessionManager(api, tokens, newStream, app.SessionConfig{
		PageSize:   cfg.PageSize,
		MaxRecords: cfg.StoreMaxRecords,
	}, logger.Component("session"))
}

func relayMinPriority(cfg *config.AppConfig, log *logrus.Entry) notification.Priority {
	p, ok := notification.ParsePriority(cfg.RelayMinPriority)
	if !ok {
		log.WithField("value", cfg.RelayMinPriority).Warn("Unknown RELAY_MIN_PRIORITY, using HIGH")
		return notification.PriorityHigh
	}
	return p
}
