package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rl1809/part-ledger/internal/core/domain"
	"github.com/rl1809/part-ledger/internal/port"
)

// maxActorHops bounds the walk along next pointers when attributing a removal.
const maxActorHops = 64

// Event is what a resolver sees of one instant in a container's history.
type Event struct {
	Container domain.Container
	At        time.Time
	Added     []domain.PartRecord
	Removed   []domain.PartRecord
	Versions  []domain.ContainerVersion
}

// ActorResolver attributes an event to an actor. ok is false when the
// resolver has nothing to say and the next one should be tried.
type ActorResolver interface {
	Resolve(ctx context.Context, ev Event) (actor string, ok bool, err error)
}

type ResolverFunc func(ctx context.Context, ev Event) (string, bool, error)

func (f ResolverFunc) Resolve(ctx context.Context, ev Event) (string, bool, error) {
	return f(ctx, ev)
}

// DefaultResolvers returns the attribution order used for history feeds:
// added records, the direct successor of a removed record, the rest of the
// removed chain, then the container entity itself.
func DefaultResolvers(store port.LedgerStore) []ActorResolver {
	return []ActorResolver{
		ResolverFunc(addedActor),
		successorActor{store: store},
		chainActor{store: store, maxHops: maxActorHops},
		ResolverFunc(containerActor),
	}
}

func addedActor(_ context.Context, ev Event) (string, bool, error) {
	for _, r := range ev.Added {
		if r.By != "" {
			return r.By, true, nil
		}
	}
	return "", false, nil
}

type successorActor struct {
	store port.LedgerStore
}

func (s successorActor) Resolve(ctx context.Context, ev Event) (string, bool, error) {
	for _, r := range ev.Removed {
		if r.Next == "" || domain.IsSentinel(r.Next) {
			continue
		}
		next, err := s.store.Get(ctx, r.Next)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return "", false, fmt.Errorf("load successor %s: %w", r.Next, err)
		}
		if next.By != "" {
			return next.By, true, nil
		}
	}
	return "", false, nil
}

type chainActor struct {
	store   port.LedgerStore
	maxHops int
}

func (c chainActor) Resolve(ctx context.Context, ev Event) (string, bool, error) {
	for _, r := range ev.Removed {
		cur := r
		for hop := 0; hop < c.maxHops; hop++ {
			if cur.Next == "" || domain.IsSentinel(cur.Next) {
				break
			}
			next, err := c.store.Get(ctx, cur.Next)
			if errors.Is(err, domain.ErrNotFound) {
				break
			}
			if err != nil {
				return "", false, fmt.Errorf("walk chain at %s: %w", cur.Next, err)
			}
			if next.By != "" {
				return next.By, true, nil
			}
			cur = next
		}
	}
	return "", false, nil
}

// containerActor uses the container version in force at the event, falling
// back to the latest version that existed by then.
func containerActor(_ context.Context, ev Event) (string, bool, error) {
	var latest *domain.ContainerVersion
	for i := range ev.Versions {
		v := &ev.Versions[i]
		if v.DateCreated.After(ev.At) {
			continue
		}
		if v.ActiveAt(ev.At) && v.By != "" {
			return v.By, true, nil
		}
		if latest == nil || v.DateCreated.After(latest.DateCreated) {
			latest = v
		}
	}
	if latest != nil && latest.By != "" {
		return latest.By, true, nil
	}
	return "", false, nil
}

func (s *LedgerService) resolveActor(ctx context.Context, ev Event) (string, error) {
	for _, r := range s.resolvers {
		actor, ok, err := r.Resolve(ctx, ev)
		if err != nil {
			return "", err
		}
		if ok {
			return actor, nil
		}
	}
	return domain.ActorUnknown, nil
}
