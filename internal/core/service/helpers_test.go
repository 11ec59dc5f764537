package service

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rl1809/part-ledger/internal/adapter/storage"
	"github.com/rl1809/part-ledger/internal/core/domain"
	"github.com/rl1809/part-ledger/internal/port"
)

var (
	partsRoom = domain.Location("Parts Room")
	t0        = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
)

func at(minutes int) time.Time { return t0.Add(time.Duration(minutes) * time.Minute) }

// Mock PartCatalog
type fakeCatalog map[string]domain.PartType

func (f fakeCatalog) Lookup(_ context.Context, nxid string) (domain.PartType, error) {
	pt, ok := f[nxid]
	if !ok {
		return domain.PartType{}, domain.ErrNotFound
	}
	return pt, nil
}

// Mock Metrics
type countingMetrics struct {
	port.NopMetrics
	conflicts atomic.Int32
	applied   atomic.Int32
}

func (m *countingMetrics) CloseConflict()     { m.conflicts.Add(1) }
func (m *countingMetrics) ItemApplied(string) { m.applied.Add(1) }

// stealingStore closes the first predecessor of a batch behind the caller's
// back, the way a concurrent writer on another node would. The first skip
// batches pass through untouched.
type stealingStore struct {
	*storage.MemoryStore
	skip   atomic.Int32
	steals atomic.Int32
}

func (s *stealingStore) Replace(ctx context.Context, reps []domain.Replacement) error {
	if s.skip.Add(-1) < 0 && s.steals.Add(-1) >= 0 && len(reps) > 0 && reps[0].PredecessorID != "" {
		s.MemoryStore.Close(ctx, reps[0].PredecessorID, domain.NewRecordID(), reps[0].Successor.DateCreated)
	}
	return s.MemoryStore.Replace(ctx, reps)
}

func newTestLedger(opts ...Option) (*LedgerService, *storage.MemoryStore) {
	store := storage.NewMemoryStore()
	return NewLedgerService(store, store, opts...), store
}

func seed(t *testing.T, svc *LedgerService, c domain.Container, when time.Time, by string, items ...domain.CartItem) domain.TransitionResult {
	t.Helper()
	res, err := svc.Apply(context.Background(), domain.Transition{
		Create:   domain.Template{Container: c, By: by, Date: when},
		Items:    items,
		Migrated: true,
	})
	if err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	if res.Committed() != len(items) {
		t.Fatalf("seed committed %d of %d items", res.Committed(), len(items))
	}
	return res
}

func move(t *testing.T, svc *LedgerService, from, to domain.Container, when time.Time, by string, items ...domain.CartItem) domain.TransitionResult {
	t.Helper()
	res, err := svc.Apply(context.Background(), domain.Transition{
		Create: domain.Template{Container: to, By: by, Date: when},
		Search: domain.InContainer(from),
		Items:  items,
	})
	if err != nil {
		t.Fatalf("move failed: %v", err)
	}
	return res
}

func countIn(t *testing.T, store port.LedgerStore, c domain.Container, nxid string) int {
	t.Helper()
	f := domain.InContainer(c)
	f.NXID = nxid
	n, err := store.CountActive(context.Background(), f)
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	return n
}

func assertItems(t *testing.T, label string, got, want []domain.CartItem) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("%s: expected %+v, got %+v", label, want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("%s: expected %+v, got %+v", label, want, got)
		}
	}
}
