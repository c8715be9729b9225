package cache

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "sub", "cache.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStore_PutGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, ok, err := store.Get(ctx, "missing"); err != nil || ok {
		t.Fatalf("Get(missing) = %v, %v", ok, err)
	}

	if err := store.Put(ctx, "k", []byte(`{"a":1}`), time.Minute); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, ok, err := store.Get(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("Get(k) = %v, %v", ok, err)
	}
	if string(got) != `{"a":1}` {
		t.Errorf("value = %s", got)
	}

	if err := store.Put(ctx, "k", []byte(`{"a":2}`), time.Minute); err != nil {
		t.Fatalf("Put overwrite: %v", err)
	}
	got, _, _ = store.Get(ctx, "k")
	if string(got) != `{"a":2}` {
		t.Errorf("overwritten value = %s", got)
	}
}

func TestSQLiteStore_Expiry(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	if err := store.Put(ctx, "old", []byte("x"), time.Second); err != nil {
		t.Fatalf("Put: %v", err)
	}

	now = now.Add(2 * time.Second)
	if _, ok, _ := store.Get(ctx, "old"); ok {
		t.Error("expired entry should be a miss")
	}

	if err := store.Put(ctx, "new", []byte("y"), time.Minute); err != nil {
		t.Fatalf("Put: %v", err)
	}
	n, err := store.Len(ctx)
	if err != nil {
		t.Fatalf("Len: %v", err)
	}
	if n != 1 {
		t.Errorf("expired rows should be pruned on Put, have %d rows", n)
	}
}
