package settings_test

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/meetcaption/internal/settings"
)

func TestMemStore_GetSet(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := settings.NewMemStore()
	defer s.Close()

	if _, err := s.Get(ctx, settings.KeyTargetLanguage); !errors.Is(err, settings.ErrNotFound) {
		t.Fatalf("Get on empty store err = %v, want ErrNotFound", err)
	}
	if err := s.Set(ctx, settings.KeyTargetLanguage, "de"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Set(ctx, settings.KeyTargetLanguage, "fr"); err != nil {
		t.Fatalf("Set overwrite: %v", err)
	}
	got, err := s.Get(ctx, settings.KeyTargetLanguage)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != "fr" {
		t.Errorf("Get = %q, want fr", got)
	}
}

func TestMemStore_RejectsUnknownKey(t *testing.T) {
	t.Parallel()
	s := settings.NewMemStore()
	if err := s.Set(context.Background(), "favourite_colour", "blue"); err == nil {
		t.Fatal("expected an error for an unknown key")
	}
}

type failingStore struct{ settings.MemStore }

var errBroken = errors.New("broken")

func (*failingStore) Get(context.Context, string) (string, error) { return "", errBroken }

func TestLookup(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := settings.NewMemStore()
	_ = s.Set(ctx, settings.KeyDeepgramAPIKey, "stored")
	_ = s.Set(ctx, settings.KeyTargetLanguage, "")

	tests := []struct {
		name    string
		store   settings.Store
		key     string
		want    string
		wantErr bool
	}{
		{name: "stored", store: s, key: settings.KeyDeepgramAPIKey, want: "stored"},
		{name: "missing", store: s, key: settings.KeyTranslationAPIKey, want: "fallback"},
		{name: "empty value", store: s, key: settings.KeyTargetLanguage, want: "fallback"},
		{name: "nil store", store: nil, key: settings.KeyTargetLanguage, want: "fallback"},
		{name: "store error", store: &failingStore{}, key: settings.KeyTargetLanguage, want: "fallback", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := settings.Lookup(ctx, tt.store, tt.key, "fallback")
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Lookup = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSecret(t *testing.T) {
	t.Parallel()
	if !settings.Secret(settings.KeyDeepgramAPIKey) || !settings.Secret(settings.KeyTranslationAPIKey) {
		t.Error("API keys must be secret")
	}
	if settings.Secret(settings.KeyTargetLanguage) {
		t.Error("target language is not secret")
	}
}
