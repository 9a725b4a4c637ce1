package credential

import (
	"context"
	"strings"
)

// StaticStore serves a credential read once from the environment.
type StaticStore struct {
	value string
}

func NewStaticStore(value string) *StaticStore {
	return &StaticStore{value: strings.TrimSpace(value)}
}

func (s *StaticStore) Lookup(_ context.Context) (string, error) {
	if s.value == "" {
		return "", ErrNotConfigured
	}
	return s.value, nil
}

func (s *StaticStore) Close() error { return nil }
