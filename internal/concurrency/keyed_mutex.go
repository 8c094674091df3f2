// Package concurrency provides the exclusion locks used to serialize work on
// a single discount code.
package concurrency

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

type keyedEntry struct {
	sem  *semaphore.Weighted
	refs int
}

// KeyedMutex hands out one binary lock per key. Entries are reference counted
// and removed in the same critical section that drops the last reference, so
// a caller arriving during release either shares the live entry or creates a
// fresh one; two distinct locks never exist for the same key at once.
type KeyedMutex struct {
	mu      sync.Mutex
	entries map[string]*keyedEntry
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{entries: make(map[string]*keyedEntry)}
}

// Lock blocks until the lock for key is held or ctx is done. On success the
// returned func must be called exactly once to release it.
func (k *KeyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	e := k.acquireRef(key)
	if err := e.sem.Acquire(ctx, 1); err != nil {
		k.releaseRef(key, e)
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			e.sem.Release(1)
			k.releaseRef(key, e)
		})
	}, nil
}

// Len reports how many keys currently have a holder or a waiter.
func (k *KeyedMutex) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.entries)
}

func (k *KeyedMutex) acquireRef(key string) *keyedEntry {
	k.mu.Lock()
	defer k.mu.Unlock()

	e, ok := k.entries[key]
	if !ok {
		e = &keyedEntry{sem: semaphore.NewWeighted(1)}
		k.entries[key] = e
	}
	e.refs++
	return e
}

func (k *KeyedMutex) releaseRef(key string, e *keyedEntry) {
	k.mu.Lock()
	defer k.mu.Unlock()

	e.refs--
	if e.refs == 0 && k.entries[key] == e {
		delete(k.entries, key)
	}
}
