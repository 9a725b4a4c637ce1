package credential

import (
	"context"
	"errors"
	"testing"
)

func TestNewStoreWithoutDatabaseUsesFallback(t *testing.T) {
	store, err := NewStore(context.Background(), "", "openai", " sk-env \n")
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	defer store.Close()

	got, err := store.Lookup(context.Background())
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if got != "sk-env" {
		t.Fatalf("Lookup() = %q, want %q", got, "sk-env")
	}
}

func TestStaticStoreNotConfigured(t *testing.T) {
	store := NewStaticStore("   ")
	if _, err := store.Lookup(context.Background()); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("Lookup() error = %v, want ErrNotConfigured", err)
	}
}
