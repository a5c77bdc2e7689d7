// Copyright 2024-2026 Aiku AI

package syncengine

import "sync"

// keyedMutex serializes work per key. Entries are dropped once unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedEntry)}
}

// Lock blocks until key is free and returns the unlock function.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	entry, ok := k.locks[key]
	if !ok {
		entry = &keyedEntry{}
		k.locks[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		k.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

func (k *keyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}

// keyedQueue runs work for the same key one at a time in arrival order.
// A key is present while a drainer owns it.
type keyedQueue struct {
	mu      sync.Mutex
	pending map[string][]func()
}

func newKeyedQueue() *keyedQueue {
	return &keyedQueue{pending: make(map[string][]func())}
}

// push queues fn under key and reports whether the caller must start a
// drainer for it.
func (q *keyedQueue) push(key string, fn func()) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	list, busy := q.pending[key]
	q.pending[key] = append(list, fn)
	return !busy
}

// drain runs queued work for key until none is left.
func (q *keyedQueue) drain(key string) {
	for {
		q.mu.Lock()
		list := q.pending[key]
		if len(list) == 0 {
			delete(q.pending, key)
			q.mu.Unlock()
			return
		}
		fn := list[0]
		list[0] = nil
		q.pending[key] = list[1:]
		q.mu.Unlock()
		fn()
	}
}

func (q *keyedQueue) size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
