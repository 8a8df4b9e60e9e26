package keystore

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestFileStore_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(filepath.Join(dir, "keys.json"))

	if err := store.Set("device-key", []byte{0x01, 0x02, 0x03}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := store.Get("device-key")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "\x01\x02\x03" {
		t.Fatalf("Get = %x, want 010203", got)
	}
}

func TestFileStore_MissingEntry(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(filepath.Join(dir, "keys.json"))

	_, err := store.Get("absent")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get = %v, want ErrNotFound", err)
	}
}

func TestFileStore_CreatesParentDir(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "keys.json")
	store := NewFileStore(path)

	if err := store.Set("k", []byte("v")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Fatalf("key store mode = %o, want 0600", perm)
	}
}

func TestFileStore_Delete(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(filepath.Join(dir, "keys.json"))

	if err := store.Set("k", []byte("v")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := store.Delete("k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Get("k"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get after delete = %v, want ErrNotFound", err)
	}
	if err := store.Delete("k"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Delete again = %v, want ErrNotFound", err)
	}
}

func TestFileStore_CorruptFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "keys.json")
	os.WriteFile(path, []byte("not json"), 0600)

	store := NewFileStore(path)
	if _, err := store.Get("k"); err == nil {
		t.Fatal("expected error for corrupt store file")
	}
}

func TestMemStore_CopiesData(t *testing.T) {
	store := NewMemStore()
	src := []byte{1, 2, 3}
	if err := store.Set("k", src); err != nil {
		t.Fatalf("Set: %v", err)
	}
	src[0] = 99

	got, err := store.Get("k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got[0] != 1 {
		t.Fatalf("stored entry aliased caller slice: %v", got)
	}
	got[1] = 99
	again, _ := store.Get("k")
	if again[1] != 2 {
		t.Fatalf("returned entry aliased store slice: %v", again)
	}
}
