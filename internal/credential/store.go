package credential

import (
	"context"
	"strings"
)

// NewStore creates a postgres-backed store when configured, otherwise a static one.
func NewStore(ctx context.Context, databaseURL, name, fallback string) (Store, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return NewStaticStore(fallback), nil
	}
	return NewPostgresStore(ctx, databaseURL, name)
}
