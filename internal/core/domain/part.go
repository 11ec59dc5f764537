package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Sentinel values stored in PartRecord.Next when a chain leaves inventory for good.
type Sentinel string

const (
	SentinelDeleted  Sentinel = "deleted"
	SentinelSold     Sentinel = "sold"
	SentinelLost     Sentinel = "lost"
	SentinelBroken   Sentinel = "broken"
	SentinelConsumed Sentinel = "consumed"
)

var sentinels = map[Sentinel]struct{}{
	SentinelDeleted:  {},
	SentinelSold:     {},
	SentinelLost:     {},
	SentinelBroken:   {},
	SentinelConsumed: {},
}

// IsSentinel reports whether next is a terminal sentinel rather than a record id.
func IsSentinel(next string) bool {
	_, ok := sentinels[Sentinel(next)]
	return ok
}

// PartRecord is one interval of a unit's existence in a single container.
// Records are immutable except for the one-time close that sets Next and
// DateReplaced.
type PartRecord struct {
	ID           string
	NXID         string
	Serial       string
	Container    Container
	Building     int
	By           string
	DateCreated  time.Time
	DateReplaced *time.Time
	Prev         string
	Next         string

	BuyPrice  decimal.NullDecimal
	SalePrice decimal.NullDecimal
	EbayOrder string
}

func (r PartRecord) IsOpen() bool { return r.Next == "" }

func (r PartRecord) IsRoot() bool { return r.Prev == "" }

func (r PartRecord) Serialized() bool { return r.Serial != "" }

// ActiveAt reports whether the record covered instant t.
func (r PartRecord) ActiveAt(t time.Time) bool {
	if r.DateCreated.After(t) {
		return false
	}
	return r.DateReplaced == nil || r.DateReplaced.After(t)
}

// Item returns the cart form of a single record.
func (r PartRecord) Item() CartItem {
	if r.Serialized() {
		return CartItem{NXID: r.NXID, Serial: r.Serial}
	}
	return CartItem{NXID: r.NXID, Quantity: 1}
}

// CarryProvenance copies price and order references from prev unless the
// record already has its own.
func (r *PartRecord) CarryProvenance(prev PartRecord) {
	if !r.BuyPrice.Valid && prev.BuyPrice.Valid {
		r.BuyPrice = prev.BuyPrice
	}
	if !r.SalePrice.Valid && prev.SalePrice.Valid {
		r.SalePrice = prev.SalePrice
	}
	if r.EbayOrder == "" {
		r.EbayOrder = prev.EbayOrder
	}
}

// Timestamp normalizes t to the precision the ledger stores. Equality between a
// successor's DateCreated and its predecessor's DateReplaced depends on it.
func Timestamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
