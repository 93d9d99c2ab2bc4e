package server

import "sync"

type refMutex struct {
	sync.Mutex
	refs int
}

// keyedMutex serializes work per key and frees a key's lock once nobody
// holds or waits on it.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

// Lock blocks until key is free and returns the matching unlock func.
func (km *keyedMutex) Lock(key string) func() {
	km.mu.Lock()
	l, ok := km.locks[key]
	if !ok {
		l = &refMutex{}
		km.locks[key] = l
	}
	l.refs++
	km.mu.Unlock()

	l.Lock()

	return func() {
		l.Unlock()

		km.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(km.locks, key)
		}
		km.mu.Unlock()
	}
}

func (km *keyedMutex) len() int {
	km.mu.Lock()
	defer km.mu.Unlock()
	return len(km.locks)
}
