package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rl1809/part-ledger/internal/core/domain"
)

const idempotencyKeyPrefix = "transition:"

// Apply executes a transition item by item. Each item either commits fully or
// is skipped; skips are reported in the result and are not errors. An error
// aborts the remaining items but leaves earlier commits in place.
func (s *LedgerService) Apply(ctx context.Context, t domain.Transition) (domain.TransitionResult, error) {
	start := time.Now()
	defer func() { s.metrics.TransitionDuration(time.Since(start)) }()

	if err := t.Create.Container.Validate(); err != nil {
		return domain.TransitionResult{}, err
	}
	for _, it := range t.Items {
		if err := it.Validate(); err != nil {
			return domain.TransitionResult{}, err
		}
	}
	if t.Create.Date.IsZero() {
		t.Create.Date = s.now()
	}
	t.Create.Date = domain.Timestamp(t.Create.Date)

	claimed := false
	if t.RequestID != "" && s.idem != nil {
		ok, err := s.idem.SetIdempotency(ctx, idempotencyKeyPrefix+t.RequestID)
		if err != nil {
			return domain.TransitionResult{}, fmt.Errorf("idempotency check failed: %w", err)
		}
		if !ok {
			return domain.TransitionResult{}, domain.ErrDuplicateRequest
		}
		claimed = true
	}

	result := domain.TransitionResult{ID: uuid.NewString(), Items: make([]domain.ItemResult, 0, len(t.Items))}
	log := s.logger.With(slog.String("transition", result.ID), slog.String("to", t.Create.Container.String()))

	for _, item := range t.Items {
		res, err := s.applyItem(ctx, t, item)
		if err != nil {
			log.Warn("transition aborted", slog.String("scope", item.ScopeKey()), slog.Any("error", err))
			if claimed && result.Committed() == 0 {
				s.releaseRequest(t.RequestID, log)
			}
			return result, fmt.Errorf("apply %s: %w", item.ScopeKey(), err)
		}
		s.metrics.ItemApplied(string(res.Status))
		if res.Status == domain.ItemSkipped {
			log.Info("item skipped", slog.String("scope", item.ScopeKey()), slog.String("reason", res.Reason))
		}
		result.Items = append(result.Items, res)
	}

	log.Debug("transition applied", slog.Int("committed", result.Committed()), slog.Int("items", len(result.Items)))
	return result, nil
}

// releaseRequest frees a request id whose transition wrote nothing, so the
// caller can retry it. Partial commits keep the id claimed.
func (s *LedgerService) releaseRequest(id string, log *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.idem.DeleteIdempotency(ctx, idempotencyKeyPrefix+id); err != nil {
		log.Error("failed to release request id", slog.String("request", id), slog.Any("error", err))
	}
}

// applyItem holds the item's scope lock across selection and close, and
// re-selects candidates when a close loses to a concurrent writer.
func (s *LedgerService) applyItem(ctx context.Context, t domain.Transition, item domain.CartItem) (domain.ItemResult, error) {
	unlock, err := s.locker.Lock(ctx, item.ScopeKey())
	if err != nil {
		return domain.ItemResult{}, fmt.Errorf("lock scope: %w", err)
	}
	defer unlock()

	for attempt := 0; ; attempt++ {
		res, err := s.tryItem(ctx, t, item)
		if !errors.Is(err, domain.ErrConcurrencyConflict) {
			return res, err
		}
		s.metrics.CloseConflict()
		if attempt >= s.maxRetries {
			return domain.ItemResult{}, err
		}
		s.logger.Info("close conflict, reselecting", slog.String("scope", item.ScopeKey()), slog.Int("attempt", attempt+1))
	}
}

func (s *LedgerService) tryItem(ctx context.Context, t domain.Transition, item domain.CartItem) (domain.ItemResult, error) {
	if t.Migrated {
		return s.createRoots(ctx, t, item)
	}

	want := 1
	if !item.Serialized() {
		want = item.Quantity
	}
	preds, err := s.store.FindActive(ctx, t.Search.Narrow(item), want)
	if err != nil {
		return domain.ItemResult{}, fmt.Errorf("find predecessors: %w", err)
	}
	if len(preds) == 0 && item.Serialized() {
		return skipped(item, "no active record for serial"), nil
	}
	if len(preds) < want {
		return skipped(item, fmt.Sprintf("insufficient stock: %d of %d available", len(preds), want)), nil
	}

	consumable, err := s.consumable(ctx, item.NXID)
	if err != nil {
		return domain.ItemResult{}, err
	}

	reps := make([]domain.Replacement, 0, len(preds))
	ids := make([]string, 0, len(preds))
	for i := range preds {
		succ := successor(t.Create, item, &preds[i], consumable)
		reps = append(reps, domain.Replacement{PredecessorID: preds[i].ID, Successor: succ})
		ids = append(ids, succ.ID)
	}
	if err := s.store.Replace(ctx, reps); err != nil {
		return domain.ItemResult{}, err
	}
	return domain.ItemResult{Item: item, Status: domain.ItemCommitted, RecordIDs: ids}, nil
}

// createRoots starts new chains for imported stock. A serial that already has
// an active record anywhere is skipped so imports can be replayed.
func (s *LedgerService) createRoots(ctx context.Context, t domain.Transition, item domain.CartItem) (domain.ItemResult, error) {
	n := item.Quantity
	if item.Serialized() {
		existing, err := s.store.FindActive(ctx, domain.RecordFilter{NXID: item.NXID, Serial: item.Serial}, 1)
		if err != nil {
			return domain.ItemResult{}, fmt.Errorf("find active serial: %w", err)
		}
		if len(existing) > 0 {
			return skipped(item, "serial already active"), nil
		}
		n = 1
	}

	reps := make([]domain.Replacement, 0, n)
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		rec := successor(t.Create, item, nil, false)
		reps = append(reps, domain.Replacement{Successor: rec})
		ids = append(ids, rec.ID)
	}
	if err := s.store.Replace(ctx, reps); err != nil {
		return domain.ItemResult{}, err
	}
	return domain.ItemResult{Item: item, Status: domain.ItemCommitted, RecordIDs: ids}, nil
}

// Adopt attaches serials to fungible units already in the pool selected by
// search, replacing one unserialized record per serial in place.
func (s *LedgerService) Adopt(ctx context.Context, tmpl domain.Template, search domain.RecordFilter, serials []domain.CartItem) (domain.TransitionResult, error) {
	if tmpl.Date.IsZero() {
		tmpl.Date = s.now()
	}
	tmpl.Date = domain.Timestamp(tmpl.Date)
	result := domain.TransitionResult{ID: uuid.NewString()}

	for _, item := range serials {
		if !item.Serialized() {
			return result, &domain.ValidationError{Field: "serial", Message: "adoption needs a serial for " + item.NXID}
		}
		res, err := s.adoptOne(ctx, tmpl, search, item)
		if err != nil {
			return result, fmt.Errorf("adopt %s: %w", item.ScopeKey(), err)
		}
		s.metrics.ItemApplied(string(res.Status))
		result.Items = append(result.Items, res)
	}
	return result, nil
}

func (s *LedgerService) adoptOne(ctx context.Context, tmpl domain.Template, search domain.RecordFilter, item domain.CartItem) (domain.ItemResult, error) {
	// Fungible pool of the nxid is the contended scope here.
	unlock, err := s.locker.Lock(ctx, item.NXID)
	if err != nil {
		return domain.ItemResult{}, fmt.Errorf("lock scope: %w", err)
	}
	defer unlock()

	for attempt := 0; ; attempt++ {
		taken, err := s.store.CountActive(ctx, domain.RecordFilter{NXID: item.NXID, Serial: item.Serial})
		if err != nil {
			return domain.ItemResult{}, fmt.Errorf("find active serial: %w", err)
		}
		if taken > 0 {
			return skipped(item, "serial already active"), nil
		}
		preds, err := s.store.FindActive(ctx, search.Narrow(domain.CartItem{NXID: item.NXID, Quantity: 1}), 1)
		if err != nil {
			return domain.ItemResult{}, fmt.Errorf("find fungible unit: %w", err)
		}
		if len(preds) == 0 {
			return skipped(item, "no fungible unit to adopt"), nil
		}
		succ := successor(tmpl, item, &preds[0], false)
		err = s.store.Replace(ctx, []domain.Replacement{{PredecessorID: preds[0].ID, Successor: succ}})
		if err == nil {
			return domain.ItemResult{Item: item, Status: domain.ItemCommitted, RecordIDs: []string{succ.ID}}, nil
		}
		if !errors.Is(err, domain.ErrConcurrencyConflict) || attempt >= s.maxRetries {
			return domain.ItemResult{}, err
		}
		s.metrics.CloseConflict()
	}
}

func (s *LedgerService) consumable(ctx context.Context, nxid string) (bool, error) {
	if s.catalog == nil {
		return false, nil
	}
	pt, err := s.catalog.Lookup(ctx, nxid)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("catalog lookup %s: %w", nxid, err)
	}
	return pt.Consumable, nil
}

// successor builds the record that replaces prev, or a chain root when prev is nil.
// Only moves consume; roots of consumable stock start active.
func successor(tmpl domain.Template, item domain.CartItem, prev *domain.PartRecord, consumable bool) domain.PartRecord {
	rec := domain.PartRecord{
		ID:          domain.NewRecordID(),
		NXID:        item.NXID,
		Serial:      item.Serial,
		Container:   tmpl.Container,
		Building:    tmpl.Building,
		By:          tmpl.By,
		DateCreated: tmpl.Date,
		BuyPrice:    tmpl.BuyPrice,
		SalePrice:   tmpl.SalePrice,
		EbayOrder:   tmpl.EbayOrder,
	}
	if prev != nil {
		rec.Prev = prev.ID
		rec.CarryProvenance(*prev)
	}
	if seal, ok := tmpl.Container.Seal(); ok {
		rec.Next = string(seal)
	} else if consumable {
		rec.Next = string(domain.SentinelConsumed)
	}
	return rec
}

func skipped(item domain.CartItem, reason string) domain.ItemResult {
	return domain.ItemResult{Item: item, Status: domain.ItemSkipped, Reason: reason}
}
