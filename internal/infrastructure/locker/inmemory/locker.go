package inmemorylocker

import (
	"context"
	"sync"

	"github.com/arkade-os/moneypot/internal/core/domain"
	"github.com/arkade-os/moneypot/internal/core/ports"
)

type locker struct {
	lock  *sync.Mutex
	slots map[string]chan struct{}
}

// NewLocker returns a process-local IdentityLocker. Every identity owns a
// single-slot channel, so waiting for it can be interrupted by ctx.
func NewLocker() ports.IdentityLocker {
	return &locker{
		lock:  &sync.Mutex{},
		slots: make(map[string]chan struct{}),
	}
}

func (l *locker) Lock(ctx context.Context, identity string) (func(), error) {
	slot := l.slot(identityKey(identity))

	select {
	case slot <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() { <-slot })
	}, nil
}

func (l *locker) Close() {}

func (l *locker) slot(identity string) chan struct{} {
	l.lock.Lock()
	defer l.lock.Unlock()

	slot, ok := l.slots[identity]
	if !ok {
		slot = make(chan struct{}, 1)
		l.slots[identity] = slot
	}
	return slot
}

func identityKey(identity string) string {
	if addr, err := domain.NormalizeAddress(identity); err == nil {
		return addr
	}
	return identity
}
