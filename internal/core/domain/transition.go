package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type ItemStatus string

const (
	ItemCommitted ItemStatus = "committed"
	ItemSkipped   ItemStatus = "skipped"
)

// Template carries the fields stamped onto every successor a transition creates.
type Template struct {
	Container Container `json:"container"`
	Building  int       `json:"building"`
	By        string    `json:"by"`
	Date      time.Time `json:"date"`

	// Provenance set here wins over what successors inherit.
	BuyPrice  decimal.NullDecimal `json:"buy_price"`
	SalePrice decimal.NullDecimal `json:"sale_price"`
	EbayOrder string              `json:"ebay_order,omitempty"`
}

// Transition moves items from the pool selected by Search into Create.
// Migrated transitions create chain roots for serials not yet in the ledger.
type Transition struct {
	RequestID string
	Create    Template
	Search    RecordFilter
	Items     []CartItem
	Migrated  bool
}

type ItemResult struct {
	Item      CartItem   `json:"item"`
	Status    ItemStatus `json:"status"`
	Reason    string     `json:"reason,omitempty"`
	RecordIDs []string   `json:"record_ids,omitempty"`
}

type TransitionResult struct {
	ID    string       `json:"id"`
	Items []ItemResult `json:"items"`
}

func (r TransitionResult) Committed() int {
	n := 0
	for _, it := range r.Items {
		if it.Status == ItemCommitted {
			n++
		}
	}
	return n
}

// Replacement closes the predecessor and inserts Successor in its place. An
// empty PredecessorID inserts Successor as a chain root.
type Replacement struct {
	PredecessorID string
	Successor     PartRecord
}
