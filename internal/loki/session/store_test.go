package session

import (
	"os"
	"path/filepath"
	"testing"
)

func TestStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()

	s, err := New(dir)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	if _, ok := s.Get("missing"); ok {
		t.Errorf("empty store returned a value")
	}

	if err := s.Set("phase", "planning"); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	if err := s.Set("attempt", 3); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}

	v, ok := s.Get("phase")
	if !ok || v != "planning" {
		t.Errorf("Get(phase) = %v, %v", v, ok)
	}

	if err := s.Delete("attempt"); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if _, ok := s.Get("attempt"); ok {
		t.Errorf("deleted key still present")
	}
}

func TestStorePersistence(t *testing.T) {
	dir := t.TempDir()

	s, err := New(dir)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if err := s.Set("phase", "review"); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}

	// A second store over the same directory sees the persisted state.
	reopened, err := New(dir)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	v, ok := reopened.Get("phase")
	if !ok || v != "review" {
		t.Errorf("persisted value = %v, %v", v, ok)
	}
}

func TestStoreDiscardsCorruptFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte("{broken"), 0o644); err != nil {
		t.Fatalf("write corrupt file: %v", err)
	}

	s, err := New(dir)
	if err != nil {
		t.Fatalf("New() over corrupt file failed: %v", err)
	}
	if len(s.Snapshot()) != 0 {
		t.Errorf("corrupt file yielded state: %+v", s.Snapshot())
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if err := s.Set("k", "v"); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}

	snap := s.Snapshot()
	snap["k"] = "mutated"

	if v, _ := s.Get("k"); v != "v" {
		t.Errorf("snapshot mutation leaked into the store: %v", v)
	}
}
