package filestore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/five82/platter/internal/storage"
)

func TestStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "nested", "state")
	s, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := s.Load(ctx, storage.KeyCart); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Load missing = %v, want ErrNotFound", err)
	}
	if err := s.Save(ctx, storage.KeyCart, []byte(`{"items":[1]}`)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := s.Load(ctx, storage.KeyCart)
	if err != nil || string(got) != `{"items":[1]}` {
		t.Fatalf("Load = %q, %v", got, err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "platter.cart.json" {
		t.Fatalf("dir entries = %v, want only platter.cart.json", entries)
	}

	if err := s.Delete(ctx, storage.KeyCart); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete(ctx, storage.KeyCart); err != nil {
		t.Fatalf("second Delete: %v", err)
	}
	if _, err := s.Load(ctx, storage.KeyCart); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Load after delete = %v, want ErrNotFound", err)
	}
}

func TestStore_ExpandsHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	s, err := New("~/.local/share/platter")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if want := filepath.Join(home, ".local/share/platter"); s.Dir() != want {
		t.Fatalf("Dir = %q, want %q", s.Dir(), want)
	}
}

func TestStore_RejectsBadKeys(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Save(context.Background(), "../escape", []byte("x")); err == nil {
		t.Fatal("Save with traversal key succeeded")
	}
}

func TestNew_EmptyDirErrors(t *testing.T) {
	if _, err := New("   "); err == nil {
		t.Fatal("New(blank) returned nil error")
	}
}
