package shared

import "sync"

// KeyedMutex serializes work per string key. Used to guarantee that no two
// lifecycle transitions for the same material request commit concurrently
// from this process.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

// NewKeyedMutex constructs an empty KeyedMutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyedLock)}
}

// Lock acquires the mutex for key, creating it on first use.
func (km *KeyedMutex) Lock(key string) {
	km.mu.Lock()
	l, ok := km.locks[key]
	if !ok {
		l = &keyedLock{}
		km.locks[key] = l
	}
	l.refs++
	km.mu.Unlock()
	l.mu.Lock()
}

// Unlock releases the mutex for key and frees it once no waiter remains.
func (km *KeyedMutex) Unlock(key string) {
	km.mu.Lock()
	l, ok := km.locks[key]
	if ok {
		l.refs--
		if l.refs <= 0 {
			delete(km.locks, key)
		}
	}
	km.mu.Unlock()
	if ok {
		l.mu.Unlock()
	}
}
