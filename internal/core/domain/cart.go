package domain

import (
	"sort"
	"strings"
)

// CartItem requests either a count of fungible units or one serialized unit.
// When both are set Serial wins.
type CartItem struct {
	NXID     string `json:"nxid"`
	Quantity int    `json:"quantity,omitempty"`
	Serial   string `json:"serial,omitempty"`
}

func (c CartItem) Serialized() bool { return c.Serial != "" }

func (c CartItem) Validate() error {
	if strings.TrimSpace(c.NXID) == "" {
		return &ValidationError{Field: "nxid", Message: "required"}
	}
	if c.Serialized() {
		return nil
	}
	if c.Quantity < 0 {
		return &ValidationError{Field: "quantity", Message: "must not be negative"}
	}
	if c.Quantity == 0 {
		return &ValidationError{Field: "quantity", Message: "item for " + c.NXID + " has neither quantity nor serial"}
	}
	return nil
}

// ScopeKey names the chain-selection scope the item draws from.
func (c CartItem) ScopeKey() string {
	if c.Serialized() {
		return c.NXID + "/" + c.Serial
	}
	return c.NXID
}

// Delta is the output of reconciliation. Adopted lists desired serials that
// were matched against fungible stock in serial-adoption mode.
type Delta struct {
	Added   []CartItem `json:"added"`
	Removed []CartItem `json:"removed"`
	Adopted []CartItem `json:"adopted,omitempty"`
}

func (d Delta) Empty() bool { return len(d.Added) == 0 && len(d.Removed) == 0 }

// SortItems orders items by nxid, then fungible before serialized, then serial.
func SortItems(items []CartItem) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.NXID != b.NXID {
			return a.NXID < b.NXID
		}
		if a.Serialized() != b.Serialized() {
			return !a.Serialized()
		}
		return a.Serial < b.Serial
	})
}

// Collapse turns records into cart items: one entry per serial and one summed
// entry per fungible nxid.
func Collapse(records []PartRecord) []CartItem {
	counts := make(map[string]int)
	var items []CartItem
	for _, r := range records {
		if r.Serialized() {
			items = append(items, CartItem{NXID: r.NXID, Serial: r.Serial})
			continue
		}
		counts[r.NXID]++
	}
	for nxid, n := range counts {
		items = append(items, CartItem{NXID: nxid, Quantity: n})
	}
	SortItems(items)
	return items
}

// Units returns the number of physical units an item list represents.
func Units(items []CartItem) int {
	n := 0
	for _, it := range items {
		if it.Serialized() {
			n++
		} else {
			n += it.Quantity
		}
	}
	return n
}
