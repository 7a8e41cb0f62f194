package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"tomorrow/api/internal/auth"
	"tomorrow/api/internal/rbac"
)

func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	store, err := NewRedisStore("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store, s
}

func testPrincipal(id string, ttl time.Duration) Principal {
	now := time.Now()
	return Principal{
		ID:        id,
		Kind:      rbac.KindStaff,
		SubjectID: "staff-1",
		Name:      "Grace",
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
	}
}

func TestNewRedisStore(t *testing.T) {
	s := miniredis.RunT(t)

	store, err := NewRedisStore("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("NewRedisStore failed: %v", err)
	}
	defer store.Close()

	if err := store.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestNewRedisStoreBadURL(t *testing.T) {
	if _, err := NewRedisStore("not a url"); err == nil {
		t.Fatal("expected error for malformed url")
	}
}

func TestSaveAndLookupSession(t *testing.T) {
	store, _ := setupTestRedis(t)
	ctx := context.Background()

	saved := testPrincipal("sess-1", time.Hour)
	if err := store.Save(ctx, saved); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := store.Lookup(ctx, "sess-1")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if got.SubjectID != saved.SubjectID || got.Kind != saved.Kind || got.Name != saved.Name {
		t.Errorf("Lookup = %+v, want %+v", got, saved)
	}
}

func TestSessionKeyIsHashed(t *testing.T) {
	store, s := setupTestRedis(t)

	if err := store.Save(context.Background(), testPrincipal("sess-raw", time.Hour)); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if s.Exists("tomorrow:session:sess-raw") {
		t.Error("session stored under raw id")
	}
	if !s.Exists("tomorrow:session:" + auth.HashToken("sess-raw")) {
		t.Error("session not stored under hashed id")
	}
}

func TestLookupExpiredSession(t *testing.T) {
	store, s := setupTestRedis(t)
	ctx := context.Background()

	if err := store.Save(ctx, testPrincipal("sess-short", time.Second)); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	s.FastForward(2 * time.Second)

	if _, err := store.Lookup(ctx, "sess-short"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Lookup after expiry error = %v, want ErrNotFound", err)
	}
}

func TestSaveAlreadyExpired(t *testing.T) {
	store, _ := setupTestRedis(t)

	if err := store.Save(context.Background(), testPrincipal("sess-old", -time.Minute)); err == nil {
		t.Fatal("expected error saving an expired session")
	}
}

func TestLookupNonExistentSession(t *testing.T) {
	store, _ := setupTestRedis(t)

	if _, err := store.Lookup(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Lookup error = %v, want ErrNotFound", err)
	}
}

func TestRevokeSession(t *testing.T) {
	store, _ := setupTestRedis(t)
	ctx := context.Background()

	if err := store.Save(ctx, testPrincipal("sess-revoke", time.Hour)); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := store.Revoke(ctx, "sess-revoke"); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	if _, err := store.Lookup(ctx, "sess-revoke"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Lookup after revoke error = %v, want ErrNotFound", err)
	}
}

func TestRevokeNonExistentSession(t *testing.T) {
	store, _ := setupTestRedis(t)

	if err := store.Revoke(context.Background(), "never-saved"); err != nil {
		t.Errorf("Revoke of unknown session failed: %v", err)
	}
}

func TestSessionIsolation(t *testing.T) {
	store, _ := setupTestRedis(t)
	ctx := context.Background()

	first := testPrincipal("sess-a", time.Hour)
	second := testPrincipal("sess-b", time.Hour)
	second.SubjectID = "staff-2"
	for _, p := range []Principal{first, second} {
		if err := store.Save(ctx, p); err != nil {
			t.Fatalf("Save(%s) failed: %v", p.ID, err)
		}
	}

	if err := store.Revoke(ctx, "sess-a"); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	got, err := store.Lookup(ctx, "sess-b")
	if err != nil {
		t.Fatalf("Lookup(sess-b) failed: %v", err)
	}
	if got.SubjectID != "staff-2" {
		t.Errorf("SubjectID = %q, want staff-2", got.SubjectID)
	}
}
