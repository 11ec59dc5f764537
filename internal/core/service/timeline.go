package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rl1809/part-ledger/internal/core/domain"
)

// Timeline lists the distinct instants at which a container's contents or its
// own metadata changed, newest first.
func (s *LedgerService) Timeline(ctx context.Context, c domain.Container, page domain.Page) (domain.TimelinePage, error) {
	if err := c.Validate(); err != nil {
		return domain.TimelinePage{}, err
	}
	page = page.Normalize()

	times, err := s.eventTimes(ctx, c)
	if err != nil {
		return domain.TimelinePage{}, err
	}

	out := domain.TimelinePage{Page: page, Total: len(times), Times: []time.Time{}}
	from := (page.Number - 1) * page.Size
	if from >= len(times) {
		return out, nil
	}
	to := min(from+page.Size, len(times))
	out.Times = times[from:to]
	return out, nil
}

// History renders one timeline page as snapshots.
func (s *LedgerService) History(ctx context.Context, c domain.Container, page domain.Page) ([]domain.Snapshot, domain.TimelinePage, error) {
	tl, err := s.Timeline(ctx, c, page)
	if err != nil {
		return nil, domain.TimelinePage{}, err
	}
	snaps := make([]domain.Snapshot, 0, len(tl.Times))
	for _, t := range tl.Times {
		snap, err := s.SnapshotAt(ctx, c, t)
		if err != nil {
			return nil, domain.TimelinePage{}, err
		}
		snaps = append(snaps, snap)
	}
	return snaps, tl, nil
}

func (s *LedgerService) eventTimes(ctx context.Context, c domain.Container) ([]time.Time, error) {
	partTimes, err := s.store.EventTimes(ctx, domain.InContainer(c))
	if err != nil {
		return nil, fmt.Errorf("part event times: %w", err)
	}

	seen := make(map[int64]time.Time, len(partTimes))
	add := func(t time.Time) {
		t = domain.Timestamp(t)
		seen[t.UnixMicro()] = t
	}
	for _, t := range partTimes {
		add(t)
	}
	if s.history != nil {
		versions, err := s.history.ContainerVersions(ctx, c)
		if err != nil {
			return nil, fmt.Errorf("container versions: %w", err)
		}
		for _, v := range versions {
			add(v.DateCreated)
			if v.DateReplaced != nil {
				add(*v.DateReplaced)
			}
		}
	}

	times := make([]time.Time, 0, len(seen))
	for _, t := range seen {
		times = append(times, t)
	}
	sort.Slice(times, func(i, j int) bool { return times[i].After(times[j]) })
	return times, nil
}
