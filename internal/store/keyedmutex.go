package store

import (
	"context"
	"sync"
)

// keyedMutex serializes holders of the same key. Waiters give up when their
// context ends.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyLock)}
}

func (k *keyedMutex) Lock(ctx context.Context, key string) error {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{ch: make(chan struct{}, 1)}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		k.mu.Lock()
		k.deref(key, l)
		k.mu.Unlock()
		return ctx.Err()
	}
}

func (k *keyedMutex) Unlock(key string) {
	k.mu.Lock()
	defer k.mu.Unlock()

	l, ok := k.locks[key]
	if !ok {
		panic("store: unlock of unlocked key " + key)
	}
	<-l.ch
	k.deref(key, l)
}

func (k *keyedMutex) deref(key string, l *keyLock) {
	l.refs--
	if l.refs == 0 {
		delete(k.locks, key)
	}
}
