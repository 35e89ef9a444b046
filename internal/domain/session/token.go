package session

import "errors"

var (
	ErrNoToken      = errors.New("no session token stored")
	ErrTokenExpired = errors.New("session token has expired")
)

// TokenStore persists the bearer token between runs.
type TokenStore interface {
	Load() (string, error) // ErrNoToken when nothing is stored
	Save(token string) error
	Clear() error
}
