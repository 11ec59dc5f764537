package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rl1809/part-ledger/internal/core/domain"
)

// SnapshotAt reconstructs a container at instant at: what it held just before,
// what entered and left exactly then, and who did it.
func (s *LedgerService) SnapshotAt(ctx context.Context, c domain.Container, at time.Time) (domain.Snapshot, error) {
	start := time.Now()
	defer func() { s.metrics.SnapshotDuration(time.Since(start)) }()

	if err := c.Validate(); err != nil {
		return domain.Snapshot{}, err
	}
	at = domain.Timestamp(at)
	f := domain.InContainer(c)

	covering, err := s.store.FindAt(ctx, f, at)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("find records at %s: %w", at, err)
	}
	created, err := s.store.FindCreatedAt(ctx, f, at)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("find records created at %s: %w", at, err)
	}
	replaced, err := s.store.FindReplacedAt(ctx, f, at)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("find records replaced at %s: %w", at, err)
	}
	var versions []domain.ContainerVersion
	if s.history != nil {
		versions, err = s.history.ContainerVersions(ctx, c)
		if err != nil {
			return domain.Snapshot{}, fmt.Errorf("container versions: %w", err)
		}
	}

	var existing, added, removed []domain.PartRecord
	for _, r := range covering {
		if r.DateCreated.Before(at) {
			existing = append(existing, r)
		}
	}

	// A successor whose predecessor left this same container at the same
	// instant is a restamp; the unit never left.
	leaving := make(map[string]struct{}, len(replaced))
	for _, r := range replaced {
		leaving[r.ID] = struct{}{}
	}
	restamped := make(map[string]struct{})
	for _, r := range created {
		if _, ok := leaving[r.Prev]; ok && r.Prev != "" {
			restamped[r.Prev] = struct{}{}
			existing = append(existing, r)
			continue
		}
		added = append(added, r)
	}
	for _, r := range replaced {
		if _, ok := restamped[r.ID]; ok {
			continue
		}
		removed = append(removed, r)
	}
	sortRecords(added)
	sortRecords(removed)

	by, err := s.resolveActor(ctx, Event{Container: c, At: at, Added: added, Removed: removed, Versions: versions})
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("resolve actor: %w", err)
	}

	snap := domain.Snapshot{
		Container: c,
		At:        at,
		Existing:  nonNil(domain.Collapse(existing)),
		Added:     nonNil(domain.Collapse(added)),
		Removed:   nonNil(domain.Collapse(removed)),
		By:        by,
	}
	for _, v := range versions {
		if v.DateCreated.Equal(at) {
			snap.InfoUpdated = true
			break
		}
	}
	return snap, nil
}

func sortRecords(rs []domain.PartRecord) {
	sort.Slice(rs, func(i, j int) bool {
		if !rs[i].DateCreated.Equal(rs[j].DateCreated) {
			return rs[i].DateCreated.Before(rs[j].DateCreated)
		}
		return rs[i].ID < rs[j].ID
	})
}

func nonNil(items []domain.CartItem) []domain.CartItem {
	if items == nil {
		return []domain.CartItem{}
	}
	return items
}
