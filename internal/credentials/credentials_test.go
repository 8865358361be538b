package credentials_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/basket/claw-mqtt-bridge/internal/credentials"
)

func TestProbe_MissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".credentials.json")
	if credentials.Probe(path) {
		t.Fatal("expected false for missing file")
	}
}

func TestProbe_ExistingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".credentials.json")
	if err := os.WriteFile(path, []byte(`{"token":"x"}`), 0o600); err != nil {
		t.Fatalf("write credentials: %v", err)
	}
	if !credentials.Probe(path) {
		t.Fatal("expected true for existing readable file")
	}
}

func TestWatcher_ProbePrimesLazily(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".credentials.json")

	w := credentials.NewWatcher(path, nil)
	if w.Probe() {
		t.Fatal("expected false before file exists")
	}

	if err := os.WriteFile(path, []byte(`{}`), 0o600); err != nil {
		t.Fatalf("write credentials: %v", err)
	}
	// Without Start(), Probe caches its first result forever.
	if w.Probe() {
		t.Fatal("expected cached false to persist without Start")
	}
}

func TestWatcher_InvalidatesCacheOnCreate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".credentials.json")

	w := credentials.NewWatcher(path, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if w.Probe() {
		t.Fatal("expected false before file exists")
	}

	if err := os.WriteFile(path, []byte(`{}`), 0o600); err != nil {
		t.Fatalf("write credentials: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if w.Probe() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected watcher to observe file creation within timeout")
}

func TestWatcher_InvalidatesCacheOnRemove(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".credentials.json")
	if err := os.WriteFile(path, []byte(`{}`), 0o600); err != nil {
		t.Fatalf("write credentials: %v", err)
	}

	w := credentials.NewWatcher(path, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !w.Probe() {
		t.Fatal("expected true right after start")
	}

	if err := os.Remove(path); err != nil {
		t.Fatalf("remove credentials: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if !w.Probe() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected watcher to observe file removal within timeout")
}
