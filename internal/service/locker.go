package service

import (
	"context"
	"sync"
)

// SessionLocker serialises work on one key. A KeyedLocker covers a single
// process; repository.RedisLocker covers every instance sharing a Redis.
type SessionLocker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// KeyedLocker hands out one mutex per key. Entries are reference counted and
// dropped once no goroutine holds or waits on them.
type KeyedLocker struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

func NewKeyedLocker() *KeyedLocker {
	return &KeyedLocker{locks: make(map[string]*keyedLock)}
}

// Lock acquires the mutex for key and returns its release function.
func (l *KeyedLocker) Lock(key string) func() {
	l.mu.Lock()
	lk, ok := l.locks[key]
	if !ok {
		lk = &keyedLock{}
		l.locks[key] = lk
	}
	lk.refs++
	l.mu.Unlock()

	lk.mu.Lock()
	return func() {
		lk.mu.Unlock()

		l.mu.Lock()
		lk.refs--
		if lk.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}
}

// Acquire is Lock behind the SessionLocker interface. It never fails.
func (l *KeyedLocker) Acquire(_ context.Context, key string) (func(), error) {
	return l.Lock(key), nil
}
