package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/sakif/authlink/internal/repository"
)

// newTestDB creates a fresh in-memory database for each test, so tests never
// share state.
func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestNew_MigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "authlink.db")

	first, err := New(path)
	if err != nil {
		t.Fatalf("first New() error = %v", err)
	}
	first.Close()

	second, err := New(path)
	if err != nil {
		t.Fatalf("second New() on migrated db error = %v", err)
	}
	defer second.Close()

	if err := second.Ping(context.Background()); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
}

func TestForeignKeysEnforced(t *testing.T) {
	db := newTestDB(t)

	_, err := db.conn.Exec(`INSERT INTO identities (id, user_id, provider, provider_user_id)
		VALUES ('i1', 'no-such-user', 'github', '1')`)
	if err == nil {
		t.Fatal("inserting an identity for a missing user should fail with foreign_keys=ON")
	}
}

func TestStats(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	st, err := db.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if st != (repository.Stats{}) {
		t.Errorf("Stats() on empty db = %+v, want zeros", st)
	}

	createTestUser(t, db.Users(), "stats@example.com")
	st, _ = db.Stats(ctx)
	if st.Users != 1 {
		t.Errorf("Stats().Users = %d, want 1", st.Users)
	}
}
