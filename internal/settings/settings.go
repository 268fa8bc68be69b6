// Package settings defines the persisted key-value configuration that the
// operator edits at runtime: recognition and translation credentials and the
// translation target language.
//
// Two implementations exist: [MemStore] for tests and ephemeral runs, and the
// PostgreSQL-backed store in the postgres subpackage.
package settings

import (
	"context"
	"errors"
	"fmt"
	"slices"
)

// ErrNotFound is returned by [Store.Get] when the key has never been set.
var ErrNotFound = errors.New("settings: key not found")

// Well-known keys.
const (
	KeyDeepgramAPIKey    = "deepgram_api_key"
	KeyTranslationAPIKey = "translation_api_key"
	KeyTargetLanguage    = "target_language"
)

// Keys lists every key a [Store] accepts.
var Keys = []string{KeyDeepgramAPIKey, KeyTranslationAPIKey, KeyTargetLanguage}

// Secret reports whether the value of key must never be echoed back to
// clients or logs.
func Secret(key string) bool {
	return key == KeyDeepgramAPIKey || key == KeyTranslationAPIKey
}

// ValidateKey returns an error for keys outside [Keys].
func ValidateKey(key string) error {
	if !slices.Contains(Keys, key) {
		return fmt.Errorf("settings: unknown key %q", key)
	}
	return nil
}

// Store is a durable key-value store for operator settings.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the value stored under key, or [ErrNotFound].
	Get(ctx context.Context, key string) (string, error)

	// Set stores value under key, replacing any previous value. Unknown keys
	// are rejected.
	Set(ctx context.Context, key, value string) error

	// Close releases the store's resources.
	Close()
}

// Lookup returns the value under key, or fallback when the key is unset or
// the store fails. Store errors other than [ErrNotFound] are returned so the
// caller can log them.
func Lookup(ctx context.Context, s Store, key, fallback string) (string, error) {
	if s == nil {
		return fallback, nil
	}
	v, err := s.Get(ctx, key)
	switch {
	case errors.Is(err, ErrNotFound):
		return fallback, nil
	case err != nil:
		return fallback, err
	case v == "":
		return fallback, nil
	default:
		return v, nil
	}
}
