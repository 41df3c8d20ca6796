package service

import (
	"slices"
	"sync"
)

// keyedMutex serialises work per item id. Entries are reference counted and
// removed once nobody holds or waits on them.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refLock)}
}

// Lock acquires every id in sorted order and returns the matching unlock.
func (k *keyedMutex) Lock(ids ...string) (unlock func()) {
	keys := slices.Clone(ids)
	slices.Sort(keys)
	keys = slices.Compact(keys)

	held := make([]*refLock, 0, len(keys))
	for _, id := range keys {
		k.mu.Lock()
		l, ok := k.locks[id]
		if !ok {
			l = &refLock{}
			k.locks[id] = l
		}
		l.refs++
		k.mu.Unlock()

		l.Lock()
		held = append(held, l)
	}

	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
			k.mu.Lock()
			held[i].refs--
			if held[i].refs == 0 {
				delete(k.locks, keys[i])
			}
			k.mu.Unlock()
		}
	}
}

func (k *keyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
