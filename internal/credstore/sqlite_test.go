package credstore

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "creds.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStore_RoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	blob := []byte{0x00, 0x01, 0xfe, 0xff, 'k', 'e', 'y', 's'}
	if err := s.Save(ctx, "sess-1", blob); err != nil {
		t.Fatal(err)
	}

	got, err := s.Load(ctx, "sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, blob) {
		t.Errorf("loaded blob differs: got %x, want %x", got, blob)
	}
}

func TestSQLiteStore_Overwrite(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Save(ctx, "sess-1", []byte("old")); err != nil {
		t.Fatal(err)
	}
	if err := s.Save(ctx, "sess-1", []byte("new")); err != nil {
		t.Fatal(err)
	}

	got, err := s.Load(ctx, "sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "new" {
		t.Errorf("got %q, want %q", got, "new")
	}
}

func TestSQLiteStore_NotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.Load(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSQLiteStore_Delete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Save(ctx, "sess-1", []byte("blob")); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(ctx, "sess-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Load(ctx, "sess-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}

	// Deleting a missing session is not an error.
	if err := s.Delete(ctx, "missing"); err != nil {
		t.Errorf("delete missing: %v", err)
	}
}
