package appointment

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// keyedMutex serializes work per key; distinct keys never contend.
type keyedMutex struct {
	mu    sync.Mutex
	slots map[uuid.UUID]*keySlot
}

type keySlot struct {
	ch   chan struct{}
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{slots: make(map[uuid.UUID]*keySlot)}
}

func (k *keyedMutex) lock(ctx context.Context, key uuid.UUID) (func(), error) {
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

	return func() {
		<-slot.ch
		k.release(key, slot)
	}, nil
}

func (k *keyedMutex) release(key uuid.UUID, slot *keySlot) {
	k.mu.Lock()
	slot.refs--
	if slot.refs == 0 {
		delete(k.slots, key)
	}
	k.mu.Unlock()
}

type localLocker struct {
	keys *keyedMutex
}

// NewLocalLocker returns an in-process Locker for single-instance deployments.
func NewLocalLocker() Locker {
	return &localLocker{keys: newKeyedMutex()}
}

func (l *localLocker) WithOwnerLock(ctx context.Context, ownerID uuid.UUID, fn func(ctx context.Context) error) error {
	unlock, err := l.keys.lock(ctx, ownerID)
	if err != nil {
		return err
	}
	defer unlock()
	return fn(ctx)
}
