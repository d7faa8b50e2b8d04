package utils

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestLocalStorageDelete_MissingFileIsSuccess(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "a.jpg"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	s := NewLocalStorage(root)
	ctx := context.Background()

	if err := s.Delete(ctx, "a.jpg"); err != nil {
		t.Fatalf("delete a.jpg: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "a.jpg")); !os.IsNotExist(err) {
		t.Fatalf("expected a.jpg to be gone, stat err=%v", err)
	}
	if err := s.Delete(ctx, "missing.jpg"); err != nil {
		t.Fatalf("delete missing.jpg: %v", err)
	}
	// Deleting twice is fine too.
	if err := s.Delete(ctx, "a.jpg"); err != nil {
		t.Fatalf("second delete a.jpg: %v", err)
	}
}

func TestLocalStorage_RejectsPathsOutsideRoot(t *testing.T) {
	s := NewLocalStorage(t.TempDir())
	for _, p := range []string{"../etc/passwd", "a/../../b.jpg", "..", ""} {
		err := s.Delete(context.Background(), p)
		if err == nil {
			t.Fatalf("expected error for %q", p)
		}
		if p != "" && !errors.Is(err, ErrPathOutsideRoot) {
			t.Fatalf("expected ErrPathOutsideRoot for %q, got %v", p, err)
		}
	}
}

func TestLocalStoragePut_CreatesDirectories(t *testing.T) {
	root := t.TempDir()
	s := NewLocalStorage(root)
	if err := s.Put(context.Background(), "backups/7/x.xlsx", []byte("data"), "application/octet-stream"); err != nil {
		t.Fatalf("put: %v", err)
	}
	b, err := os.ReadFile(filepath.Join(root, "backups", "7", "x.xlsx"))
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(b) != "data" {
		t.Fatalf("unexpected content %q", string(b))
	}
}
