package storage

import (
	"context"
	"sync"

	"github.com/rl1809/part-ledger/internal/port"
)

var _ port.IdempotencyCache = (*LocalIdempotency)(nil)

// LocalIdempotency is an in-process IdempotencyCache without expiry, used when
// no Redis address is configured.
type LocalIdempotency struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

func NewLocalIdempotency() *LocalIdempotency {
	return &LocalIdempotency{keys: make(map[string]struct{})}
}

func (l *LocalIdempotency) SetIdempotency(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.keys[key]; ok {
		return false, nil
	}
	l.keys[key] = struct{}{}
	return true, nil
}

func (l *LocalIdempotency) DeleteIdempotency(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.keys, key)
	return nil
}
