package storage

import (
	"context"
	"sync"
)

// KeyedLock serializes writers per key within one process. Each key owns a
// one-slot semaphore; Acquire blocks until the slot frees or the caller's
// context is cancelled. There is no fairness guarantee and no built-in
// timeout; callers bound waiting through their context.
type KeyedLock struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

// NewKeyedLock creates an empty keyed lock
func NewKeyedLock() *KeyedLock {
	return &KeyedLock{
		slots: make(map[string]chan struct{}),
	}
}

// Acquire takes the lock for key, blocking until it is free. The returned
// release func must be called exactly once; defer it immediately so the lock
// is released even when the guarded write fails.
func (l *KeyedLock) Acquire(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	slot, ok := l.slots[key]
	if !ok {
		slot = make(chan struct{}, 1)
		l.slots[key] = slot
	}
	l.mu.Unlock()

	select {
	case slot <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			<-slot
		})
	}
	return release, nil
}
