package port

import (
	"context"

	"github.com/rl1809/part-ledger/internal/core/domain"
)

type PartCatalog interface {
	// Lookup returns domain.ErrNotFound for unknown nxids.
	Lookup(ctx context.Context, nxid string) (domain.PartType, error)
}
