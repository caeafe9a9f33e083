package scheduler

import (
	"context"
	"sync"
	"time"
)

// NopLocker grants every lock. Suitable for a single scheduler process.
type NopLocker struct{}

func (NopLocker) TryLock(ctx context.Context, name string, ttl time.Duration) (func(), bool, error) {
	return func() {}, true, nil
}

// MutexLocker keeps ticks single-flight within one process
type MutexLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

// NewMutexLocker creates an in-process locker
func NewMutexLocker() *MutexLocker {
	return &MutexLocker{held: make(map[string]bool)}
}

// TryLock ignores ttl; the lock lives until unlock is called.
func (l *MutexLocker) TryLock(ctx context.Context, name string, ttl time.Duration) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[name] {
		return nil, false, nil
	}
	l.held[name] = true

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, name)
			l.mu.Unlock()
		})
	}, true, nil
}
