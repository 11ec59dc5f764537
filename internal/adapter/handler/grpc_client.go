package handler

import (
	"context"

	"google.golang.org/grpc"

	"github.com/rl1809/part-ledger/internal/core/domain"
)

// LedgerClient calls the ledger gRPC service with the JSON codec.
type LedgerClient struct {
	cc grpc.ClientConnInterface
}

func NewLedgerClient(cc grpc.ClientConnInterface) *LedgerClient {
	return &LedgerClient{cc: cc}
}

func (c *LedgerClient) Reconcile(ctx context.Context, req *ReconcileRequest) (*domain.Delta, error) {
	out := new(domain.Delta)
	return out, c.invoke(ctx, "Reconcile", req, out)
}

func (c *LedgerClient) ApplyTransition(ctx context.Context, req *TransitionRequest) (*domain.TransitionResult, error) {
	out := new(domain.TransitionResult)
	return out, c.invoke(ctx, "ApplyTransition", req, out)
}

func (c *LedgerClient) SnapshotAt(ctx context.Context, req *SnapshotRequest) (*domain.Snapshot, error) {
	out := new(domain.Snapshot)
	return out, c.invoke(ctx, "SnapshotAt", req, out)
}

func (c *LedgerClient) Timeline(ctx context.Context, req *TimelineRequest) (*domain.TimelinePage, error) {
	out := new(domain.TimelinePage)
	return out, c.invoke(ctx, "Timeline", req, out)
}

func (c *LedgerClient) invoke(ctx context.Context, method string, in, out any) error {
	return c.cc.Invoke(ctx, "/"+serviceName+"/"+method, in, out, grpc.CallContentSubtype(CodecName))
}
