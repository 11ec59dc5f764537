package handler

import (
	"context"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/rl1809/part-ledger/internal/core/domain"
	"github.com/rl1809/part-ledger/internal/core/service"
)

const serviceName = "partledger.v1.Ledger"

// LedgerServer is the gRPC surface of the ledger.
type LedgerServer interface {
	Reconcile(context.Context, *ReconcileRequest) (*domain.Delta, error)
	ApplyTransition(context.Context, *TransitionRequest) (*domain.TransitionResult, error)
	SnapshotAt(context.Context, *SnapshotRequest) (*domain.Snapshot, error)
	Timeline(context.Context, *TimelineRequest) (*domain.TimelinePage, error)
}

var _ LedgerServer = (*GRPCHandler)(nil)

type GRPCHandler struct {
	ledger *service.LedgerService
}

func NewGRPCHandler(ledger *service.LedgerService) *GRPCHandler {
	return &GRPCHandler{ledger: ledger}
}

func RegisterLedgerServer(s grpc.ServiceRegistrar, srv LedgerServer) {
	s.RegisterService(&ledgerServiceDesc, srv)
}

func (h *GRPCHandler) Reconcile(_ context.Context, req *ReconcileRequest) (*domain.Delta, error) {
	reconcile := service.Reconcile
	if req.AdoptSerials {
		reconcile = service.ReconcileAdopting
	}
	delta, err := reconcile(req.Desired, req.Current)
	if err != nil {
		return nil, grpcError(err)
	}
	return &delta, nil
}

func (h *GRPCHandler) ApplyTransition(ctx context.Context, req *TransitionRequest) (*domain.TransitionResult, error) {
	result, err := h.ledger.Apply(ctx, req.Transition())
	if err != nil {
		return nil, grpcError(err)
	}
	return &result, nil
}

func (h *GRPCHandler) SnapshotAt(ctx context.Context, req *SnapshotRequest) (*domain.Snapshot, error) {
	snap, err := h.ledger.SnapshotAt(ctx, req.Container, req.At)
	if err != nil {
		return nil, grpcError(err)
	}
	return &snap, nil
}

func (h *GRPCHandler) Timeline(ctx context.Context, req *TimelineRequest) (*domain.TimelinePage, error) {
	tl, err := h.ledger.Timeline(ctx, req.Container, domain.Page{Number: req.Page, Size: req.PageSize})
	if err != nil {
		return nil, grpcError(err)
	}
	return &tl, nil
}

func grpcError(err error) error {
	switch {
	case domain.IsValidation(err):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return status.Error(codes.NotFound, "not found")
	case errors.Is(err, domain.ErrDuplicateRequest):
		return status.Error(codes.AlreadyExists, "duplicate request")
	case errors.Is(err, domain.ErrConcurrencyConflict):
		return status.Error(codes.Aborted, "concurrent update, retry")
	default:
		return status.Error(codes.Internal, "internal error")
	}
}

var ledgerServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*LedgerServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Reconcile", LedgerServer.Reconcile),
		unary("ApplyTransition", LedgerServer.ApplyTransition),
		unary("SnapshotAt", LedgerServer.SnapshotAt),
		unary("Timeline", LedgerServer.Timeline),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "partledger/v1/ledger.proto",
}

func unary[Req, Resp any](method string, call func(LedgerServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(LedgerServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/" + method}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(LedgerServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}
