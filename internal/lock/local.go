package lock

import (
	"context"
	"sync"
)

// LocalLocker is the single-process Locker. Each key maps to a one-slot
// channel so waiters can give up when their context ends.
type LocalLocker struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{slots: map[string]chan struct{}{}}
}

func (l *LocalLocker) Lock(ctx context.Context, key string) (Unlocker, error) {
	slot := l.slot(key)
	select {
	case slot <- struct{}{}:
		return localUnlock{slot: slot}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *LocalLocker) slot(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	slot, ok := l.slots[key]
	if !ok {
		slot = make(chan struct{}, 1)
		l.slots[key] = slot
	}
	return slot
}

type localUnlock struct {
	slot chan struct{}
}

func (u localUnlock) Unlock(ctx context.Context) error {
	<-u.slot
	return nil
}
