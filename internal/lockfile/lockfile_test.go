package lockfile

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestAcquireRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".hostkit.lock")
	ctx := context.Background()

	l, err := Acquire(ctx, path)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := l.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}

	// Reacquire after release succeeds immediately.
	l2, err := Acquire(ctx, path)
	if err != nil {
		t.Fatalf("reacquire: %v", err)
	}
	l2.Release()
}

func TestContendedLockWaits(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".hostkit.lock")
	ctx := context.Background()

	held, err := Acquire(ctx, path)
	if err != nil {
		t.Fatal(err)
	}

	// Second acquire from another goroutine blocks until release.
	acquired := make(chan *Lock, 1)
	go func() {
		l, err := Acquire(ctx, path)
		if err != nil {
			t.Error(err)
			return
		}
		acquired <- l
	}()

	select {
	case <-acquired:
		t.Fatal("second acquire succeeded while lock held")
	case <-time.After(400 * time.Millisecond):
	}

	held.Release()

	select {
	case l := <-acquired:
		l.Release()
	case <-time.After(2 * time.Second):
		t.Fatal("second acquire did not proceed after release")
	}
}

func TestAcquireRespectsContext(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".hostkit.lock")
	held, err := Acquire(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	defer held.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	if _, err := Acquire(ctx, path); err == nil {
		t.Fatal("expected context error on contended lock")
	}
}
