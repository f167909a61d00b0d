package cache

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCreateThenDelete(t *testing.T) {
	base := t.TempDir()
	m, err := NewManager(base)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	dir, err := m.Create(42)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if dir != filepath.Join(base, "42") {
		t.Fatalf("Dir = %q", dir)
	}
	if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
		t.Fatalf("expected %s to exist as a directory, err=%v", dir, err)
	}

	stale := filepath.Join(dir, "stale.dat")
	if err := os.WriteFile(stale, []byte("x"), 0o644); err != nil {
		t.Fatalf("seed stale file: %v", err)
	}
	if _, err := m.Create(42); err != nil {
		t.Fatalf("re-Create: %v", err)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatal("re-Create did not clear residual contents")
	}

	if err := m.Delete(42); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatal("Delete did not remove the directory")
	}
}

func TestNewManagerRejectsNonDirectory(t *testing.T) {
	base := t.TempDir()
	f := filepath.Join(base, "notadir")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}
	if _, err := NewManager(f); err == nil {
		t.Fatal("want error for non-directory base")
	}
}
