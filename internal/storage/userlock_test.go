package storage

import (
	"context"
	"sync"
	"testing"
	"time"
)

// TestKeyedLockMutualExclusion verifies only one holder per key at a time
func TestKeyedLockMutualExclusion(t *testing.T) {
	lock := NewKeyedLock()
	ctx := context.Background()

	var mu sync.Mutex
	active := 0
	maxActive := 0

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			release, err := lock.Acquire(ctx, "user:alice")
			if err != nil {
				t.Errorf("Acquire failed: %v", err)
				return
			}
			defer release()

			mu.Lock()
			active++
			if active > maxActive {
				maxActive = active
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			active--
			mu.Unlock()
		}()
	}
	wg.Wait()

	if maxActive != 1 {
		t.Errorf("Expected at most 1 concurrent holder, observed %d", maxActive)
	}
}

// TestKeyedLockIndependentKeys verifies different keys do not block each other
func TestKeyedLockIndependentKeys(t *testing.T) {
	lock := NewKeyedLock()
	ctx := context.Background()

	releaseA, err := lock.Acquire(ctx, "user:alice")
	if err != nil {
		t.Fatalf("Acquire alice failed: %v", err)
	}
	defer releaseA()

	done := make(chan struct{})
	go func() {
		releaseB, err := lock.Acquire(ctx, "user:bob")
		if err != nil {
			t.Errorf("Acquire bob failed: %v", err)
			return
		}
		releaseB()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Lock on a different key should not block")
	}
}

// TestKeyedLockContextCancellation verifies a waiting acquirer can give up
func TestKeyedLockContextCancellation(t *testing.T) {
	lock := NewKeyedLock()

	release, err := lock.Acquire(context.Background(), "user:alice")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := lock.Acquire(ctx, "user:alice"); err == nil {
		t.Error("Expected context error while lock is held")
	}
}

// TestKeyedLockReleaseIdempotent verifies calling release twice is safe
func TestKeyedLockReleaseIdempotent(t *testing.T) {
	lock := NewKeyedLock()
	ctx := context.Background()

	release, err := lock.Acquire(ctx, "user:alice")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	release()
	release()

	// Lock must still work after a double release
	release2, err := lock.Acquire(ctx, "user:alice")
	if err != nil {
		t.Fatalf("Re-acquire failed: %v", err)
	}
	release2()
}
