package postgres_test

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/meetcaption/internal/settings"
	"github.com/MrWong99/meetcaption/internal/settings/postgres"
)

// testDSN returns the test database DSN from the environment, or skips the
// test if MEETCAPTION_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("MEETCAPTION_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("MEETCAPTION_TEST_POSTGRES_DSN not set, skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore creates a fresh store on a clean settings table.
func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	t.Cleanup(pool.Close)
	if _, err := pool.Exec(ctx, "DROP TABLE IF EXISTS settings"); err != nil {
		t.Fatalf("drop settings: %v", err)
	}

	store, err := postgres.NewStore(ctx, dsn)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(store.Close)
	return store
}

func TestStore_GetSet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.Get(ctx, settings.KeyTargetLanguage); !errors.Is(err, settings.ErrNotFound) {
		t.Fatalf("Get on empty table err = %v, want ErrNotFound", err)
	}
	if err := store.Set(ctx, settings.KeyTargetLanguage, "de"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := store.Set(ctx, settings.KeyTargetLanguage, "ja"); err != nil {
		t.Fatalf("Set upsert: %v", err)
	}
	got, err := store.Get(ctx, settings.KeyTargetLanguage)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != "ja" {
		t.Errorf("Get = %q, want ja", got)
	}
	if err := store.Ping(ctx); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func TestStore_RejectsUnknownKey(t *testing.T) {
	store := newTestStore(t)
	if err := store.Set(context.Background(), "nope", "x"); err == nil {
		t.Fatal("expected an error for an unknown key")
	}
}

func TestStore_MigrateIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	if err := store.Set(ctx, settings.KeyDeepgramAPIKey, "secret"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	reopened, err := postgres.NewStore(ctx, testDSN(t))
	if err != nil {
		t.Fatalf("NewStore again: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.Get(ctx, settings.KeyDeepgramAPIKey)
	if err != nil || got != "secret" {
		t.Errorf("Get after re-migrate = %q, %v", got, err)
	}
}
