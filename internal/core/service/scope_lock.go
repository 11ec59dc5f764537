package service

import (
	"context"
	"sync"
)

// scopeMutex is the in-process ScopeLocker used when no distributed locker is
// configured.
type scopeMutex struct {
	mu     sync.Mutex
	scopes map[string]*scopeSlot
}

type scopeSlot struct {
	ch   chan struct{}
	refs int
}

func newScopeMutex() *scopeMutex {
	return &scopeMutex{scopes: make(map[string]*scopeSlot)}
}

func (m *scopeMutex) Lock(ctx context.Context, scope string) (func(), error) {
	m.mu.Lock()
	slot, ok := m.scopes[scope]
	if !ok {
		slot = &scopeSlot{ch: make(chan struct{}, 1)}
		m.scopes[scope] = slot
	}
	slot.refs++
	m.mu.Unlock()

	select {
	case slot.ch <- struct{}{}:
	case <-ctx.Done():
		m.release(scope, slot)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-slot.ch
			m.release(scope, slot)
		})
	}, nil
}

func (m *scopeMutex) release(scope string, slot *scopeSlot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	slot.refs--
	if slot.refs == 0 {
		delete(m.scopes, scope)
	}
}
