package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound            = errors.New("ledger: not found")
	ErrConcurrencyConflict = errors.New("ledger: concurrency conflict")
	ErrDuplicateRequest    = errors.New("ledger: duplicate request")
	ErrInvalidContainer    = errors.New("ledger: invalid container")
)

// ValidationError reports a malformed request field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("ledger: validation failed for %s: %s", e.Field, e.Message)
}

// Shortfall describes one requested item the source pool cannot cover.
type Shortfall struct {
	Item      CartItem `json:"item"`
	Available int      `json:"available"`
}

// InsufficientStockError is returned by pre-flight checks before any ledger write.
type InsufficientStockError struct {
	Shortfalls []Shortfall
}

func (e *InsufficientStockError) Error() string {
	parts := make([]string, 0, len(e.Shortfalls))
	for _, s := range e.Shortfalls {
		if s.Item.Serialized() {
			parts = append(parts, fmt.Sprintf("%s serial %s unavailable", s.Item.NXID, s.Item.Serial))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s wants %d have %d", s.Item.NXID, s.Item.Quantity, s.Available))
	}
	return "ledger: insufficient stock: " + strings.Join(parts, "; ")
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve) || errors.Is(err, ErrInvalidContainer)
}

// IsRetryable reports whether the caller may retry the operation as-is.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict)
}
