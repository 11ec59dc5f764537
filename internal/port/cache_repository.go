package port

import "context"

// ScopeLocker serializes candidate selection and close for one chain scope.
type ScopeLocker interface {
	// Lock blocks until the scope is held or ctx ends. The returned func releases it.
	Lock(ctx context.Context, scope string) (unlock func(), err error)
}

type IdempotencyCache interface {
	// SetIdempotency sets a key for idempotency check, returns false if already exists
	SetIdempotency(ctx context.Context, key string) (bool, error)
	// DeleteIdempotency frees a key so the request can be retried
	DeleteIdempotency(ctx context.Context, key string) error
}
