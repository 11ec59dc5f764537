package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rl1809/part-ledger/internal/core/domain"
)

// CheckStock counts what the pool selected by search can supply for items,
// without writing. An empty result means every item is covered.
func (s *LedgerService) CheckStock(ctx context.Context, search domain.RecordFilter, items []domain.CartItem) ([]domain.Shortfall, error) {
	wanted := make(map[string]int)
	var order []string
	var shortfalls []domain.Shortfall

	for _, it := range items {
		if err := it.Validate(); err != nil {
			return nil, err
		}
		if it.Serialized() {
			n, err := s.store.CountActive(ctx, search.Narrow(it))
			if err != nil {
				return nil, fmt.Errorf("count %s: %w", it.ScopeKey(), err)
			}
			if n == 0 {
				shortfalls = append(shortfalls, domain.Shortfall{Item: it})
			}
			continue
		}
		if _, ok := wanted[it.NXID]; !ok {
			order = append(order, it.NXID)
		}
		wanted[it.NXID] += it.Quantity
	}

	for _, nxid := range order {
		item := domain.CartItem{NXID: nxid, Quantity: wanted[nxid]}
		n, err := s.store.CountActive(ctx, search.Narrow(item))
		if err != nil {
			return nil, fmt.Errorf("count %s: %w", nxid, err)
		}
		if n < item.Quantity {
			shortfalls = append(shortfalls, domain.Shortfall{Item: item, Available: n})
		}
	}
	return shortfalls, nil
}

// SyncRequest sets the contents of Target to Desired. Units that must be added
// are drawn from Source; units that must go are moved to Destination.
type SyncRequest struct {
	RequestID    string
	Target       domain.Container
	Building     int
	Source       domain.RecordFilter
	Destination  domain.Container
	By           string
	Date         time.Time
	Desired      []domain.CartItem
	AdoptSerials bool
}

type SyncResult struct {
	Delta   domain.Delta            `json:"delta"`
	Adopted domain.TransitionResult `json:"adopted"`
	Added   domain.TransitionResult `json:"added"`
	Removed domain.TransitionResult `json:"removed"`
}

// SyncContents reconciles a container against its desired contents, checks
// the source pool can cover the additions and then applies the delta. Nothing
// is written when stock is short.
func (s *LedgerService) SyncContents(ctx context.Context, req SyncRequest) (SyncResult, error) {
	if err := req.Target.Validate(); err != nil {
		return SyncResult{}, err
	}
	if err := req.Destination.Validate(); err != nil {
		return SyncResult{}, err
	}

	inTarget := domain.InContainer(req.Target)
	inTarget.Building = req.Building
	active, err := s.store.FindActive(ctx, inTarget, 0)
	if err != nil {
		return SyncResult{}, fmt.Errorf("current contents: %w", err)
	}
	current := domain.Collapse(active)

	var delta domain.Delta
	if req.AdoptSerials {
		delta, err = ReconcileAdopting(req.Desired, current)
	} else {
		delta, err = Reconcile(req.Desired, current)
	}
	if err != nil {
		return SyncResult{}, err
	}

	shortfalls, err := s.CheckStock(ctx, req.Source, delta.Added)
	if err != nil {
		return SyncResult{}, err
	}
	if len(shortfalls) > 0 {
		return SyncResult{Delta: delta}, &domain.InsufficientStockError{Shortfalls: shortfalls}
	}

	date := req.Date
	if date.IsZero() {
		date = s.now()
	}
	date = domain.Timestamp(date)
	res := SyncResult{Delta: delta}

	if len(delta.Adopted) > 0 {
		tmpl := domain.Template{Container: req.Target, Building: req.Building, By: req.By, Date: date}
		res.Adopted, err = s.Adopt(ctx, tmpl, inTarget, delta.Adopted)
		if err != nil {
			return res, err
		}
	}
	if len(delta.Added) > 0 {
		res.Added, err = s.Apply(ctx, domain.Transition{
			RequestID: requestKey(req.RequestID, "added"),
			Create:    domain.Template{Container: req.Target, Building: req.Building, By: req.By, Date: date},
			Search:    req.Source,
			Items:     delta.Added,
		})
		if err != nil {
			return res, err
		}
	}
	if len(delta.Removed) > 0 {
		res.Removed, err = s.Apply(ctx, domain.Transition{
			RequestID: requestKey(req.RequestID, "removed"),
			Create:    domain.Template{Container: req.Destination, Building: req.Building, By: req.By, Date: date},
			Search:    inTarget,
			Items:     delta.Removed,
		})
		if err != nil {
			return res, err
		}
	}
	return res, nil
}

func requestKey(id, leg string) string {
	if id == "" {
		return ""
	}
	return id + ":" + leg
}
