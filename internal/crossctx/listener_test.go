package crossctx

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestListenerInvokesCallbackOnSignalWrite(t *testing.T) {
	dir := t.TempDir()
	signalPath := filepath.Join(dir, "device.db.signal")

	changed := make(chan struct{}, 4)
	listener, err := NewListener(signalPath, func() { changed <- struct{}{} }, nil)
	if err != nil {
		t.Fatalf("failed to build listener: %v", err)
	}
	if err := listener.Start(); err != nil {
		t.Fatalf("failed to start listener: %v", err)
	}
	defer listener.Stop()

	if err := os.WriteFile(signalPath, []byte("1"), 0o644); err != nil {
		t.Fatalf("failed to write signal: %v", err)
	}

	select {
	case <-changed:
	case <-time.After(2 * time.Second):
		t.Fatal("expected change callback within deadline")
	}
}

func TestListenerIgnoresUnrelatedFiles(t *testing.T) {
	dir := t.TempDir()
	signalPath := filepath.Join(dir, "device.db.signal")

	changed := make(chan struct{}, 4)
	listener, err := NewListener(signalPath, func() { changed <- struct{}{} }, nil)
	if err != nil {
		t.Fatalf("failed to build listener: %v", err)
	}
	if err := listener.Start(); err != nil {
		t.Fatalf("failed to start listener: %v", err)
	}
	defer listener.Stop()

	if err := os.WriteFile(filepath.Join(dir, "other.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("failed to write unrelated file: %v", err)
	}

	select {
	case <-changed:
		t.Fatal("unrelated file must not trigger the callback")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestListenerDebouncesBursts(t *testing.T) {
	dir := t.TempDir()
	signalPath := filepath.Join(dir, "device.db.signal")

	changed := make(chan struct{}, 16)
	listener, err := NewListener(signalPath, func() { changed <- struct{}{} }, nil)
	if err != nil {
		t.Fatalf("failed to build listener: %v", err)
	}
	if err := listener.Start(); err != nil {
		t.Fatalf("failed to start listener: %v", err)
	}
	defer listener.Stop()

	for i := 0; i < 5; i++ {
		if err := os.WriteFile(signalPath, []byte{byte('0' + i)}, 0o644); err != nil {
			t.Fatalf("failed to write signal: %v", err)
		}
	}

	select {
	case <-changed:
	case <-time.After(2 * time.Second):
		t.Fatal("expected at least one callback")
	}

	// The burst should have collapsed into far fewer callbacks than writes.
	time.Sleep(200 * time.Millisecond)
	extra := len(changed)
	if extra >= 4 {
		t.Fatalf("expected burst debounced, got %d extra callbacks", extra+1)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	listener, err := NewListener(filepath.Join(dir, "s"), func() {}, nil)
	if err != nil {
		t.Fatalf("failed to build listener: %v", err)
	}
	if err := listener.Start(); err != nil {
		t.Fatalf("failed to start listener: %v", err)
	}
	listener.Stop()
	listener.Stop()
}
