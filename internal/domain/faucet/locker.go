package faucet

import (
	"context"
	"sync"
)

// Locker serialises work per key. Acquire blocks until the key is free or ctx
// is done; the returned func releases the key.
type Locker interface {
	Acquire(ctx context.Context, key string) (func(), error)
}

// KeyedMutex is an in-process Locker. Entries are reference counted and
// removed once no goroutine holds or waits on them.
type KeyedMutex struct {
	mu    sync.Mutex
	slots map[string]*keySlot
}

type keySlot struct {
	ch   chan struct{}
	refs int
}

// NewKeyedMutex builds an empty lock arena.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{slots: make(map[string]*keySlot)}
}

// Acquire implements Locker.
func (k *KeyedMutex) Acquire(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	slot, ok := k.slots[key]
	if !ok {
		slot = &keySlot{ch: make(chan struct{}, 1)}
		k.slots[key] = slot
	}
	slot.refs++
	k.mu.Unlock()

	select {
	case slot.ch <- struct{}{}:
	case <-ctx.Done():
		k.release(key, slot)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-slot.ch
			k.release(key, slot)
		})
	}, nil
}

func (k *KeyedMutex) release(key string, slot *keySlot) {
	k.mu.Lock()
	defer k.mu.Unlock()
	slot.refs--
	if slot.refs == 0 {
		delete(k.slots, key)
	}
}

// Len reports how many keys are currently held or awaited.
func (k *KeyedMutex) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.slots)
}

// MultiLocker acquires several lockers in order and releases them in reverse.
type MultiLocker []Locker

// Acquire implements Locker.
func (m MultiLocker) Acquire(ctx context.Context, key string) (func(), error) {
	releases := make([]func(), 0, len(m))
	unlock := func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}
	for _, l := range m {
		release, err := l.Acquire(ctx, key)
		if err != nil {
			unlock()
			return nil, err
		}
		releases = append(releases, release)
	}
	return unlock, nil
}
