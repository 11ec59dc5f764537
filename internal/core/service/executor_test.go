package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/rl1809/part-ledger/internal/adapter/storage"
	"github.com/rl1809/part-ledger/internal/core/domain"
)

func TestApply_MovesAllRequestedUnits(t *testing.T) {
	svc, store := newTestLedger()
	ctx := context.Background()

	_, err := svc.Apply(ctx, domain.Transition{
		Create: domain.Template{
			Container: partsRoom,
			By:        "receiving",
			Date:      at(0),
			BuyPrice:  decimal.NewNullDecimal(decimal.RequireFromString("12.50")),
		},
		Items:    []domain.CartItem{{NXID: "B", Quantity: 2}},
		Migrated: true,
	})
	if err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	asset := domain.Asset("A-100")
	res := move(t, svc, partsRoom, asset, at(5), "tech", domain.CartItem{NXID: "B", Quantity: 2})
	if res.Committed() != 1 || len(res.Items[0].RecordIDs) != 2 {
		t.Fatalf("expected one committed item with 2 records, got %+v", res)
	}

	for _, id := range res.Items[0].RecordIDs {
		succ, err := store.Get(ctx, id)
		if err != nil {
			t.Fatalf("get successor: %v", err)
		}
		if succ.Container != asset || succ.By != "tech" {
			t.Errorf("successor not stamped from template: %+v", succ)
		}
		if !succ.BuyPrice.Valid || !succ.BuyPrice.Decimal.Equal(decimal.RequireFromString("12.5")) {
			t.Errorf("buy price not carried forward: %+v", succ.BuyPrice)
		}
		prev, err := store.Get(ctx, succ.Prev)
		if err != nil {
			t.Fatalf("get predecessor: %v", err)
		}
		if prev.Next != succ.ID {
			t.Errorf("predecessor next = %s, want %s", prev.Next, succ.ID)
		}
		if prev.DateReplaced == nil || !prev.DateReplaced.Equal(succ.DateCreated) {
			t.Errorf("chain not contiguous: replaced %v created %v", prev.DateReplaced, succ.DateCreated)
		}
	}

	if n := countIn(t, store, partsRoom, "B"); n != 0 {
		t.Errorf("expected parts room empty, got %d", n)
	}
	if n := countIn(t, store, asset, "B"); n != 2 {
		t.Errorf("expected 2 units in asset, got %d", n)
	}
}

func TestApply_InsufficientStockSkipsItem(t *testing.T) {
	svc, store := newTestLedger()
	seed(t, svc, partsRoom, at(0), "receiving", domain.CartItem{NXID: "C", Quantity: 3})

	res := move(t, svc, partsRoom, domain.Owner("u1"), at(1), "u1",
		domain.CartItem{NXID: "C", Quantity: 5},
	)
	if res.Committed() != 0 || res.Items[0].Status != domain.ItemSkipped {
		t.Fatalf("expected skip, got %+v", res)
	}
	if n := countIn(t, store, partsRoom, "C"); n != 3 {
		t.Errorf("store changed on skip: %d units left", n)
	}
}

func TestApply_IndependentItems(t *testing.T) {
	svc, store := newTestLedger()
	seed(t, svc, partsRoom, at(0), "receiving",
		domain.CartItem{NXID: "A", Quantity: 1},
		domain.CartItem{NXID: "B", Serial: "SN-1"},
	)

	res := move(t, svc, partsRoom, domain.Owner("u1"), at(1), "u1",
		domain.CartItem{NXID: "A", Quantity: 2},
		domain.CartItem{NXID: "B", Serial: "SN-1"},
		domain.CartItem{NXID: "B", Serial: "SN-missing"},
	)
	statuses := []domain.ItemStatus{domain.ItemSkipped, domain.ItemCommitted, domain.ItemSkipped}
	for i, want := range statuses {
		if res.Items[i].Status != want {
			t.Errorf("item %d: expected %s, got %s", i, want, res.Items[i].Status)
		}
	}
	if n := countIn(t, store, domain.Owner("u1"), "B"); n != 1 {
		t.Errorf("expected serial moved, got %d", n)
	}
}

func TestApply_TerminalSealsSuccessor(t *testing.T) {
	svc, store := newTestLedger()
	ctx := context.Background()
	seed(t, svc, partsRoom, at(0), "receiving", domain.CartItem{NXID: "A", Serial: "SN-1"})

	res := move(t, svc, partsRoom, domain.Terminal(domain.SentinelSold), at(1), "sales",
		domain.CartItem{NXID: "A", Serial: "SN-1"},
	)
	succ, err := store.Get(ctx, res.Items[0].RecordIDs[0])
	if err != nil {
		t.Fatalf("get successor: %v", err)
	}
	if succ.Next != string(domain.SentinelSold) || succ.DateReplaced != nil {
		t.Errorf("expected sold sentinel with open date, got next=%q replaced=%v", succ.Next, succ.DateReplaced)
	}
	active, _ := store.CountActive(ctx, domain.RecordFilter{NXID: "A", Serial: "SN-1"})
	if active != 0 {
		t.Errorf("sold serial must not be active, got %d", active)
	}

	// The serial is free for re-import once its chain ended.
	again := seed(t, svc, partsRoom, at(2), "receiving", domain.CartItem{NXID: "A", Serial: "SN-1"})
	if again.Committed() != 1 {
		t.Errorf("expected re-import to commit, got %+v", again)
	}
}

func TestApply_ConsumablePartsAreSealed(t *testing.T) {
	svc, store := newTestLedger(WithCatalog(fakeCatalog{
		"PASTE": {NXID: "PASTE", Name: "Thermal paste", Consumable: true},
	}))
	seed(t, svc, partsRoom, at(0), "receiving", domain.CartItem{NXID: "PASTE", Quantity: 2})

	res := move(t, svc, partsRoom, domain.Asset("A-1"), at(1), "tech", domain.CartItem{NXID: "PASTE", Quantity: 1})
	succ, err := store.Get(context.Background(), res.Items[0].RecordIDs[0])
	if err != nil {
		t.Fatalf("get successor: %v", err)
	}
	if succ.Next != string(domain.SentinelConsumed) {
		t.Errorf("expected consumed sentinel, got %q", succ.Next)
	}
	if n := countIn(t, store, domain.Asset("A-1"), "PASTE"); n != 0 {
		t.Errorf("consumed unit must not stay active, got %d", n)
	}
	if n := countIn(t, store, partsRoom, "PASTE"); n != 1 {
		t.Errorf("expected one unit left in parts room, got %d", n)
	}

	// The sealed record stays in the asset's history.
	snap, err := svc.SnapshotAt(context.Background(), domain.Asset("A-1"), at(5))
	if err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}
	assertItems(t, "existing", snap.Existing, []domain.CartItem{{NXID: "PASTE", Quantity: 1}})
}

func TestApply_ConsumableImportStaysActive(t *testing.T) {
	svc, store := newTestLedger(WithCatalog(fakeCatalog{
		"PASTE": {NXID: "PASTE", Consumable: true},
	}))
	res := seed(t, svc, partsRoom, at(0), "receiving", domain.CartItem{NXID: "PASTE", Quantity: 3})

	for _, id := range res.Items[0].RecordIDs {
		rec, err := store.Get(context.Background(), id)
		if err != nil {
			t.Fatalf("get root: %v", err)
		}
		if !rec.IsOpen() {
			t.Errorf("imported root must be open, got next=%q", rec.Next)
		}
	}
	if n := countIn(t, store, partsRoom, "PASTE"); n != 3 {
		t.Errorf("expected 3 units received, got %d", n)
	}
}

func TestApply_MigratedSerialReplayIsSkipped(t *testing.T) {
	svc, _ := newTestLedger()
	seed(t, svc, partsRoom, at(0), "import", domain.CartItem{NXID: "A", Serial: "SN-1"})

	res, err := svc.Apply(context.Background(), domain.Transition{
		Create:   domain.Template{Container: partsRoom, Date: at(1)},
		Items:    []domain.CartItem{{NXID: "A", Serial: "SN-1"}},
		Migrated: true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Items[0].Status != domain.ItemSkipped {
		t.Errorf("expected replayed serial skipped, got %+v", res.Items[0])
	}
}

func TestApply_DuplicateRequest(t *testing.T) {
	svc, store := newTestLedger(WithIdempotency(storage.NewLocalIdempotency()))
	ctx := context.Background()
	seed(t, svc, partsRoom, at(0), "receiving", domain.CartItem{NXID: "A", Quantity: 5})

	tr := domain.Transition{
		RequestID: "req-1",
		Create:    domain.Template{Container: domain.Owner("u1"), Date: at(1)},
		Search:    domain.InContainer(partsRoom),
		Items:     []domain.CartItem{{NXID: "A", Quantity: 1}},
	}
	if _, err := svc.Apply(ctx, tr); err != nil {
		t.Fatalf("first apply failed: %v", err)
	}
	if _, err := svc.Apply(ctx, tr); !errors.Is(err, domain.ErrDuplicateRequest) {
		t.Errorf("expected ErrDuplicateRequest, got %v", err)
	}
	if n := countIn(t, store, partsRoom, "A"); n != 4 {
		t.Errorf("expected a single unit moved, got %d left", n)
	}
}

func TestApply_RetryAfterFailedRequest(t *testing.T) {
	mem := storage.NewMemoryStore()
	store := &stealingStore{MemoryStore: mem}
	svc := NewLedgerService(store, mem, WithMaxRetries(0), WithIdempotency(storage.NewLocalIdempotency()))
	ctx := context.Background()
	seed(t, svc, partsRoom, at(0), "receiving", domain.CartItem{NXID: "A", Quantity: 5})

	tr := domain.Transition{
		RequestID: "req-1",
		Create:    domain.Template{Container: domain.Owner("u1"), Date: at(1)},
		Search:    domain.InContainer(partsRoom),
		Items:     []domain.CartItem{{NXID: "A", Quantity: 1}},
	}
	store.steals.Store(1)
	if _, err := svc.Apply(ctx, tr); !domain.IsRetryable(err) {
		t.Fatalf("expected retryable conflict, got %v", err)
	}

	res, err := svc.Apply(ctx, tr)
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if res.Committed() != 1 {
		t.Errorf("expected retry to commit, got %+v", res)
	}
	if _, err := svc.Apply(ctx, tr); !errors.Is(err, domain.ErrDuplicateRequest) {
		t.Errorf("expected ErrDuplicateRequest after success, got %v", err)
	}
	if n := countIn(t, mem, domain.Owner("u1"), "A"); n != 1 {
		t.Errorf("expected one unit checked out, got %d", n)
	}
}

func TestApply_PartialCommitKeepsRequestClaimed(t *testing.T) {
	mem := storage.NewMemoryStore()
	store := &stealingStore{MemoryStore: mem}
	svc := NewLedgerService(store, mem, WithMaxRetries(0), WithIdempotency(storage.NewLocalIdempotency()))
	ctx := context.Background()
	seed(t, svc, partsRoom, at(0), "receiving",
		domain.CartItem{NXID: "A", Quantity: 2},
		domain.CartItem{NXID: "B", Quantity: 2},
	)

	tr := domain.Transition{
		RequestID: "req-2",
		Create:    domain.Template{Container: domain.Owner("u1"), Date: at(1)},
		Search:    domain.InContainer(partsRoom),
		Items:     []domain.CartItem{{NXID: "A", Quantity: 1}, {NXID: "B", Quantity: 1}},
	}
	store.skip.Store(1)
	store.steals.Store(1)
	res, err := svc.Apply(ctx, tr)
	if !domain.IsRetryable(err) {
		t.Fatalf("expected retryable conflict, got %v", err)
	}
	if res.Committed() != 1 {
		t.Fatalf("expected first item committed, got %+v", res)
	}

	if _, err := svc.Apply(ctx, tr); !errors.Is(err, domain.ErrDuplicateRequest) {
		t.Errorf("expected ErrDuplicateRequest after partial commit, got %v", err)
	}
	if n := countIn(t, mem, domain.Owner("u1"), "A"); n != 1 {
		t.Errorf("committed item must not be applied twice, got %d", n)
	}
}

func TestApply_ValidatesBeforeWriting(t *testing.T) {
	svc, _ := newTestLedger()
	ctx := context.Background()

	_, err := svc.Apply(ctx, domain.Transition{
		Create: domain.Template{Container: domain.Container{Kind: domain.KindAsset}},
		Items:  []domain.CartItem{{NXID: "A", Quantity: 1}},
	})
	if !errors.Is(err, domain.ErrInvalidContainer) {
		t.Errorf("expected ErrInvalidContainer, got %v", err)
	}

	_, err = svc.Apply(ctx, domain.Transition{
		Create: domain.Template{Container: partsRoom},
		Items:  []domain.CartItem{{NXID: "A"}},
	})
	if !domain.IsValidation(err) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestApply_ReselectsAfterLostClose(t *testing.T) {
	mem := storage.NewMemoryStore()
	store := &stealingStore{MemoryStore: mem}
	metrics := &countingMetrics{}
	svc := NewLedgerService(store, mem, WithMetrics(metrics))
	seed(t, svc, partsRoom, at(0), "receiving", domain.CartItem{NXID: "A", Quantity: 3})

	store.steals.Store(1)
	res := move(t, svc, partsRoom, domain.Owner("u1"), at(1), "u1", domain.CartItem{NXID: "A", Quantity: 2})
	if res.Committed() != 1 {
		t.Fatalf("expected commit after reselect, got %+v", res)
	}
	if metrics.conflicts.Load() != 1 {
		t.Errorf("expected 1 conflict, got %d", metrics.conflicts.Load())
	}
	if n := countIn(t, store, partsRoom, "A"); n != 0 {
		t.Errorf("expected parts room drained, got %d", n)
	}
}

func TestApply_GivesUpAfterMaxRetries(t *testing.T) {
	mem := storage.NewMemoryStore()
	store := &stealingStore{MemoryStore: mem}
	svc := NewLedgerService(store, mem, WithMaxRetries(1))
	seed(t, svc, partsRoom, at(0), "receiving", domain.CartItem{NXID: "A", Quantity: 10})

	store.steals.Store(5)
	_, err := svc.Apply(context.Background(), domain.Transition{
		Create: domain.Template{Container: domain.Owner("u1"), Date: at(1)},
		Search: domain.InContainer(partsRoom),
		Items:  []domain.CartItem{{NXID: "A", Quantity: 1}},
	})
	if !domain.IsRetryable(err) {
		t.Errorf("expected retryable conflict, got %v", err)
	}
}

func TestApply_ConcurrentCheckouts(t *testing.T) {
	svc, store := newTestLedger()
	seed(t, svc, partsRoom, at(0), "receiving", domain.CartItem{NXID: "A", Quantity: 10})

	var wg sync.WaitGroup
	var committed atomic.Int32
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.Apply(context.Background(), domain.Transition{
				Create: domain.Template{Container: domain.Owner("u1"), Date: at(1)},
				Search: domain.InContainer(partsRoom),
				Items:  []domain.CartItem{{NXID: "A", Quantity: 1}},
			})
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			committed.Add(int32(res.Committed()))
		}()
	}
	wg.Wait()

	if committed.Load() != 10 {
		t.Errorf("expected exactly 10 commits, got %d", committed.Load())
	}
	if n := countIn(t, store, domain.Owner("u1"), "A"); n != 10 {
		t.Errorf("expected 10 units with owner, got %d", n)
	}
	if n := countIn(t, store, partsRoom, "A"); n != 0 {
		t.Errorf("expected room empty, got %d", n)
	}
}

func TestAdopt_PromotesFungibleUnit(t *testing.T) {
	svc, store := newTestLedger()
	ctx := context.Background()
	asset := domain.Asset("A-1")
	seed(t, svc, asset, at(0), "import", domain.CartItem{NXID: "A", Quantity: 1})

	res, err := svc.Adopt(ctx, domain.Template{Container: asset, By: "audit", Date: at(1)},
		domain.InContainer(asset), []domain.CartItem{{NXID: "A", Serial: "SN-7"}})
	if err != nil {
		t.Fatalf("adopt failed: %v", err)
	}
	if res.Committed() != 1 {
		t.Fatalf("expected adoption committed, got %+v", res)
	}
	succ, _ := store.Get(ctx, res.Items[0].RecordIDs[0])
	if succ.Serial != "SN-7" || succ.Prev == "" {
		t.Errorf("expected serialized successor of fungible record, got %+v", succ)
	}

	units, _ := store.FindActive(ctx, domain.InContainer(asset), 0)
	if len(units) != 1 || units[0].Serial != "SN-7" {
		t.Errorf("expected single serialized unit, got %+v", units)
	}
}
