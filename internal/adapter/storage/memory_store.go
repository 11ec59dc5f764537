package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rl1809/part-ledger/internal/core/domain"
	"github.com/rl1809/part-ledger/internal/port"
)

var (
	_ port.LedgerStore      = (*MemoryStore)(nil)
	_ port.ContainerHistory = (*MemoryStore)(nil)
)

// MemoryStore keeps the ledger in process. Open records are indexed by nxid
// and active serials by (nxid, serial).
type MemoryStore struct {
	mu sync.RWMutex

	records      map[string]*domain.PartRecord
	activeByNXID map[string]map[string]struct{}
	activeSerial map[string]string

	versions map[domain.Container][]*domain.ContainerVersion
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:      make(map[string]*domain.PartRecord),
		activeByNXID: make(map[string]map[string]struct{}),
		activeSerial: make(map[string]string),
		versions:     make(map[domain.Container][]*domain.ContainerVersion),
	}
}

func serialIndexKey(nxid, serial string) string { return nxid + "/" + serial }

func (m *MemoryStore) Create(_ context.Context, rec domain.PartRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkInsert(rec, ""); err != nil {
		return err
	}
	m.insert(rec)
	return nil
}

func (m *MemoryStore) Close(_ context.Context, id, next string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return domain.ErrNotFound
	}
	if !rec.IsOpen() {
		return domain.ErrConcurrencyConflict
	}
	m.close(rec, next, at)
	return nil
}

func (m *MemoryStore) Replace(_ context.Context, reps []domain.Replacement) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Validate the whole batch before touching anything so it applies atomically.
	closing := make(map[string]struct{}, len(reps))
	for _, rep := range reps {
		if rep.PredecessorID == "" {
			continue
		}
		prev, ok := m.records[rep.PredecessorID]
		if !ok {
			return fmt.Errorf("predecessor %s: %w", rep.PredecessorID, domain.ErrNotFound)
		}
		if _, dup := closing[prev.ID]; dup || !prev.IsOpen() {
			return domain.ErrConcurrencyConflict
		}
		closing[prev.ID] = struct{}{}
	}
	for _, rep := range reps {
		if err := m.checkInsert(rep.Successor, rep.PredecessorID); err != nil {
			return err
		}
	}

	for _, rep := range reps {
		if rep.PredecessorID != "" {
			m.close(m.records[rep.PredecessorID], rep.Successor.ID, rep.Successor.DateCreated)
		}
		m.insert(rep.Successor)
	}
	return nil
}

// checkInsert rejects duplicate ids and a second active record for a serial.
// freed names a record the same batch closes, releasing its serial.
func (m *MemoryStore) checkInsert(rec domain.PartRecord, freed string) error {
	if _, exists := m.records[rec.ID]; exists {
		return fmt.Errorf("record %s already exists: %w", rec.ID, domain.ErrConcurrencyConflict)
	}
	if rec.IsOpen() && rec.Serialized() {
		if holder, ok := m.activeSerial[serialIndexKey(rec.NXID, rec.Serial)]; ok && holder != freed {
			return domain.ErrConcurrencyConflict
		}
	}
	return nil
}

func (m *MemoryStore) insert(rec domain.PartRecord) {
	r := rec
	m.records[r.ID] = &r
	if !r.IsOpen() {
		return
	}
	set, ok := m.activeByNXID[r.NXID]
	if !ok {
		set = make(map[string]struct{})
		m.activeByNXID[r.NXID] = set
	}
	set[r.ID] = struct{}{}
	if r.Serialized() {
		m.activeSerial[serialIndexKey(r.NXID, r.Serial)] = r.ID
	}
}

func (m *MemoryStore) close(rec *domain.PartRecord, next string, at time.Time) {
	at = domain.Timestamp(at)
	rec.Next = next
	rec.DateReplaced = &at
	delete(m.activeByNXID[rec.NXID], rec.ID)
	if rec.Serialized() && m.activeSerial[serialIndexKey(rec.NXID, rec.Serial)] == rec.ID {
		delete(m.activeSerial, serialIndexKey(rec.NXID, rec.Serial))
	}
}

func (m *MemoryStore) Get(_ context.Context, id string) (domain.PartRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id]
	if !ok {
		return domain.PartRecord{}, domain.ErrNotFound
	}
	return copyRecord(rec), nil
}

func (m *MemoryStore) FindActive(_ context.Context, f domain.RecordFilter, limit int) ([]domain.PartRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []domain.PartRecord
	collect := func(ids map[string]struct{}) {
		for id := range ids {
			if r := m.records[id]; f.Match(*r) {
				out = append(out, copyRecord(r))
			}
		}
	}
	switch {
	case f.NXID != "" && f.Serial != "":
		if id, ok := m.activeSerial[serialIndexKey(f.NXID, f.Serial)]; ok {
			collect(map[string]struct{}{id: {}})
		}
	case f.NXID != "":
		collect(m.activeByNXID[f.NXID])
	default:
		for _, ids := range m.activeByNXID {
			collect(ids)
		}
	}
	sortByAge(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) CountActive(ctx context.Context, f domain.RecordFilter) (int, error) {
	recs, err := m.FindActive(ctx, f, 0)
	return len(recs), err
}

func (m *MemoryStore) FindAt(_ context.Context, f domain.RecordFilter, t time.Time) ([]domain.PartRecord, error) {
	t = domain.Timestamp(t)
	return m.scan(f, func(r *domain.PartRecord) bool { return r.ActiveAt(t) }), nil
}

func (m *MemoryStore) FindCreatedAt(_ context.Context, f domain.RecordFilter, t time.Time) ([]domain.PartRecord, error) {
	t = domain.Timestamp(t)
	return m.scan(f, func(r *domain.PartRecord) bool { return r.DateCreated.Equal(t) }), nil
}

func (m *MemoryStore) FindReplacedAt(_ context.Context, f domain.RecordFilter, t time.Time) ([]domain.PartRecord, error) {
	t = domain.Timestamp(t)
	return m.scan(f, func(r *domain.PartRecord) bool {
		return r.DateReplaced != nil && r.DateReplaced.Equal(t)
	}), nil
}

func (m *MemoryStore) EventTimes(_ context.Context, f domain.RecordFilter) ([]time.Time, error) {
	seen := make(map[int64]time.Time)
	for _, r := range m.scan(f, func(*domain.PartRecord) bool { return true }) {
		seen[r.DateCreated.UnixMicro()] = r.DateCreated
		if r.DateReplaced != nil {
			seen[r.DateReplaced.UnixMicro()] = *r.DateReplaced
		}
	}
	out := make([]time.Time, 0, len(seen))
	for _, t := range seen {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

func (m *MemoryStore) scan(f domain.RecordFilter, keep func(*domain.PartRecord) bool) []domain.PartRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.PartRecord
	for _, r := range m.records {
		if f.Match(*r) && keep(r) {
			out = append(out, copyRecord(r))
		}
	}
	sortByAge(out)
	return out
}

func (m *MemoryStore) AppendContainerVersion(_ context.Context, v domain.ContainerVersion) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	v.DateCreated = domain.Timestamp(v.DateCreated)
	chain := m.versions[v.Container]
	if v.Prev != "" {
		var prev *domain.ContainerVersion
		for _, cv := range chain {
			if cv.ID == v.Prev {
				prev = cv
				break
			}
		}
		if prev == nil {
			return fmt.Errorf("container version %s: %w", v.Prev, domain.ErrNotFound)
		}
		if prev.Next != "" {
			return domain.ErrConcurrencyConflict
		}
		at := v.DateCreated
		prev.Next = v.ID
		prev.DateReplaced = &at
	}
	m.versions[v.Container] = append(chain, &v)
	return nil
}

func (m *MemoryStore) ContainerVersions(_ context.Context, c domain.Container) ([]domain.ContainerVersion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	chain := m.versions[c]
	out := make([]domain.ContainerVersion, 0, len(chain))
	for _, v := range chain {
		cv := *v
		if v.DateReplaced != nil {
			t := *v.DateReplaced
			cv.DateReplaced = &t
		}
		out = append(out, cv)
	}
	return out, nil
}

func copyRecord(r *domain.PartRecord) domain.PartRecord {
	out := *r
	if r.DateReplaced != nil {
		t := *r.DateReplaced
		out.DateReplaced = &t
	}
	return out
}

func sortByAge(rs []domain.PartRecord) {
	sort.Slice(rs, func(i, j int) bool {
		if !rs[i].DateCreated.Equal(rs[j].DateCreated) {
			return rs[i].DateCreated.Before(rs[j].DateCreated)
		}
		return rs[i].ID < rs[j].ID
	})
}
