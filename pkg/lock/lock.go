package lock

import (
	"context"
	"sync"

	appErrors "github.com/noah-isme/icrrus-api/pkg/errors"
)

// Release frees a held lock. It is safe to call more than once.
type Release func()

// Locker serialises work on a single key.
type Locker interface {
	Acquire(ctx context.Context, key string) (Release, error)
}

// KeyedMutex is a process-local Locker. Waiters block until the holder
// releases or their context ends.
type KeyedMutex struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch      chan struct{}
	waiters int
}

// NewKeyedMutex constructs an empty KeyedMutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{slots: make(map[string]*slot)}
}

// Acquire blocks until key is free.
func (k *KeyedMutex) Acquire(ctx context.Context, key string) (Release, error) {
	k.mu.Lock()
	s, ok := k.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		k.slots[key] = s
	}
	s.waiters++
	k.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		k.leave(key, s)
		return nil, appErrors.Wrap(ctx.Err(), appErrors.ErrLockBusy.Code, appErrors.ErrLockBusy.Status, appErrors.ErrLockBusy.Message)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.ch
			k.leave(key, s)
		})
	}, nil
}

func (k *KeyedMutex) leave(key string, s *slot) {
	k.mu.Lock()
	defer k.mu.Unlock()
	s.waiters--
	if s.waiters == 0 {
		delete(k.slots, key)
	}
}
