package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"campus_notifier/internal/domain/notification"
)

var (
	ErrNotOwner       = errors.New("sender is not the bot owner")
	ErrNoSession      = errors.New("no active session")
	ErrUnknownChannel = errors.New("unknown preference channel")
)

// Preference channels accepted by Set.
const (
	ChannelEnabled = "enabled"
	ChannelSSE     = "sse"
	ChannelEmail   = "email"
)

// PreferenceService runs the owner's preference commands against the active
// session and keeps the relay's mute list in step with the backend.
type PreferenceService struct {
	sessions *SessionManager
	relay    *RelayService
	ownerID  int64
}

func NewPreferenceService(sessions *SessionManager, relay *RelayService, ownerID int64) *PreferenceService {
	return &PreferenceService{sessions: sessions, relay: relay, ownerID: ownerID}
}

func (s *PreferenceService) session(senderID int64) (*Session, error) {
	if senderID != s.ownerID {
		return nil, ErrNotOwner
	}
	sess := s.sessions.Current()
	if sess == nil {
		return nil, ErrNoSession
	}
	return sess, nil
}

// Sync pulls preferences from the backend into the relay.
func (s *PreferenceService) Sync(ctx context.Context) error {
	sess := s.sessions.Current()
	if sess == nil {
		return ErrNoSession
	}
	prefs, err := sess.Preferences(ctx)
	if err != nil {
		return err
	}
	s.relay.SetPreferences(prefs)
	return nil
}

func (s *PreferenceService) List(ctx context.Context, senderID int64) ([]notification.Preference, error) {
	sess, err := s.session(senderID)
	if err != nil {
		return nil, err
	}
	prefs, err := sess.Preferences(ctx)
	if err != nil {
		return nil, err
	}
	s.relay.SetPreferences(prefs)
	return prefs, nil
}

// Set flips one channel of one category and returns the stored preference.
func (s *PreferenceService) Set(ctx context.Context, senderID int64, category notification.Category, channel string, on bool) (*notification.Preference, error) {
	sess, err := s.session(senderID)
	if err != nil {
		return nil, err
	}
	prefs, err := sess.Preferences(ctx)
	if err != nil {
		return nil, err
	}

	idx := -1
	for i, p := range prefs {
		if p.Category == category {
			idx = i
			break
		}
	}
	if idx < 0 {
		prefs = append(prefs, notification.Preference{Category: category, IsEnabled: true, IsSSEEnabled: true, IsEmailEnabled: true})
		idx = len(prefs) - 1
	}

	pref := prefs[idx]
	switch strings.ToLower(channel) {
	case ChannelEnabled:
		pref.IsEnabled = on
	case ChannelSSE:
		pref.IsSSEEnabled = on
	case ChannelEmail:
		pref.IsEmailEnabled = on
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownChannel, channel)
	}

	updated, err := sess.UpdatePreference(ctx, pref)
	if err != nil {
		return nil, err
	}
	prefs[idx] = *updated
	s.relay.SetPreferences(prefs)
	return updated, nil
}

func (s *PreferenceService) Reset(ctx context.Context, senderID int64) ([]notification.Preference, error) {
	sess, err := s.session(senderID)
	if err != nil {
		return nil, err
	}
	prefs, err := sess.ResetPreferences(ctx)
	if err != nil {
		return nil, err
	}
	s.relay.SetPreferences(prefs)
	return prefs, nil
}
