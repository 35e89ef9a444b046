package credential

import (
	"errors"
	"fmt"

	"campus_notifier/internal/domain/session"

	"github.com/99designs/keyring"
)

const tokenKey = "session-token"

// OpenKeyring returns the OS keyring, falling back to an encrypted file in fileDir.
func OpenKeyring(serviceName, fileDir string) (keyring.Keyring, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  fileDir,
		FilePasswordFunc:         keyring.FixedStringPrompt(serviceName + "-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

// TokenStore keeps the session token in a keyring.
type TokenStore struct {
	ring keyring.Keyring
}

var _ session.TokenStore = (*TokenStore)(nil)

func NewTokenStore(ring keyring.Keyring) *TokenStore {
	return &TokenStore{ring: ring}
}

func (s *TokenStore) Load() (string, error) {
	item, err := s.ring.Get(tokenKey)
	if err != nil {
		if errors.Is(err, keyring.ErrKeyNotFound) {
			return "", session.ErrNoToken
		}
		return "", fmt.Errorf("getting session token: %w", err)
	}
	if len(item.Data) == 0 {
		return "", session.ErrNoToken
	}
	return string(item.Data), nil
}

func (s *TokenStore) Save(token string) error {
	err := s.ring.Set(keyring.Item{
		Key:         tokenKey,
		Data:        []byte(token),
		Label:       "College notifications session",
		Description: "Bearer token for the notification stream",
	})
	if err != nil {
		return fmt.Errorf("setting session token: %w", err)
	}
	return nil
}

func (s *TokenStore) Clear() error {
	err := s.ring.Remove(tokenKey)
	if err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("deleting session token: %w", err)
	}
	return nil
}
