package ml

import (
	"context"
	"os"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestWatcherReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	registry := NewRegistry()
	specs := fixtureSpecs(t, dir)
	if err := registry.Load(specs); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	watcher, err := NewWatcher(registry, 20*time.Millisecond, zap.NewNop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	reloaded := make(chan error, 4)
	watcher.OnReload(func(err error) { reloaded <- err })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := watcher.Start(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer watcher.Stop()

	if err := os.WriteFile(specs[1].ModelPath, []byte(`{"coef": [0.2, 1.0], "intercept": -1}`), 0o600); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-reloaded:
		if err != nil {
			t.Fatalf("unexpected reload error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
	if registry.Generation() < 2 {
		t.Fatalf("expected a new generation, got %d", registry.Generation())
	}
}

func TestWatcherIgnoresUnrelatedFiles(t *testing.T) {
	dir := t.TempDir()
	registry := NewRegistry()
	if err := registry.Load(fixtureSpecs(t, dir)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	watcher, err := NewWatcher(registry, 10*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	reloaded := make(chan error, 1)
	watcher.OnReload(func(err error) { reloaded <- err })
	if err := watcher.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer watcher.Stop()

	if err := os.WriteFile(dir+"/notes.txt", []byte("hello"), 0o600); err != nil {
		t.Fatal(err)
	}
	select {
	case <-reloaded:
		t.Fatal("did not expect a reload")
	case <-time.After(200 * time.Millisecond):
	}
}
