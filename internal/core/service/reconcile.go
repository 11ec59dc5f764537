package service

import (
	"sort"

	"github.com/rl1809/part-ledger/internal/core/domain"
)

type serialKey struct {
	nxid   string
	serial string
}

// tally is a multiset view of a cart: a set of serials plus fungible counts.
type tally struct {
	serials  map[serialKey]struct{}
	order    []serialKey
	fungible map[string]int
}

func newTally(items []domain.CartItem) (*tally, error) {
	t := &tally{
		serials:  make(map[serialKey]struct{}),
		fungible: make(map[string]int),
	}
	for _, it := range items {
		if err := it.Validate(); err != nil {
			return nil, err
		}
		if it.Serialized() {
			k := serialKey{nxid: it.NXID, serial: it.Serial}
			if _, dup := t.serials[k]; dup {
				continue
			}
			t.serials[k] = struct{}{}
			t.order = append(t.order, k)
			continue
		}
		t.fungible[it.NXID] += it.Quantity
	}
	sort.Slice(t.order, func(i, j int) bool {
		if t.order[i].nxid != t.order[j].nxid {
			return t.order[i].nxid < t.order[j].nxid
		}
		return t.order[i].serial < t.order[j].serial
	})
	return t, nil
}

// Reconcile diffs desired against current inventory. Serials are compared as
// sets, fungible units by count per nxid.
func Reconcile(desired, current []domain.CartItem) (domain.Delta, error) {
	return reconcile(desired, current, false)
}

// ReconcileAdopting is Reconcile for callers attaching newly learned serials to
// stock that was tracked by count. A desired serial missing from current
// consumes one fungible unit of the same nxid before it counts as added, and a
// current serial missing from desired consumes one desired fungible unit before
// it counts as removed.
func ReconcileAdopting(desired, current []domain.CartItem) (domain.Delta, error) {
	return reconcile(desired, current, true)
}

func reconcile(desired, current []domain.CartItem, adopt bool) (domain.Delta, error) {
	want, err := newTally(desired)
	if err != nil {
		return domain.Delta{}, err
	}
	have, err := newTally(current)
	if err != nil {
		return domain.Delta{}, err
	}

	delta := domain.Delta{Added: []domain.CartItem{}, Removed: []domain.CartItem{}}

	for _, k := range want.order {
		if _, ok := have.serials[k]; ok {
			continue
		}
		item := domain.CartItem{NXID: k.nxid, Serial: k.serial}
		if adopt && have.fungible[k.nxid] > 0 {
			have.fungible[k.nxid]--
			delta.Adopted = append(delta.Adopted, item)
			continue
		}
		delta.Added = append(delta.Added, item)
	}

	for _, k := range have.order {
		if _, ok := want.serials[k]; ok {
			continue
		}
		if adopt && want.fungible[k.nxid] > 0 {
			want.fungible[k.nxid]--
			continue
		}
		delta.Removed = append(delta.Removed, domain.CartItem{NXID: k.nxid, Serial: k.serial})
	}

	nxids := make(map[string]struct{}, len(want.fungible)+len(have.fungible))
	for n := range want.fungible {
		nxids[n] = struct{}{}
	}
	for n := range have.fungible {
		nxids[n] = struct{}{}
	}
	for nxid := range nxids {
		diff := want.fungible[nxid] - have.fungible[nxid]
		switch {
		case diff > 0:
			delta.Added = append(delta.Added, domain.CartItem{NXID: nxid, Quantity: diff})
		case diff < 0:
			delta.Removed = append(delta.Removed, domain.CartItem{NXID: nxid, Quantity: -diff})
		}
	}

	domain.SortItems(delta.Added)
	domain.SortItems(delta.Removed)
	return delta, nil
}
