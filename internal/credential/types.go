package credential

import (
	"context"
	"errors"
)

var (
	ErrNotConfigured = errors.New("credential not configured")
	// ErrInvalid is advisory: the backend rejected the credential on probe.
	ErrInvalid = errors.New("credential invalid")
)

// Store returns the bearer credential used to open realtime sessions.
type Store interface {
	Lookup(ctx context.Context) (string, error)
	Close() error
}
