package handler

import (
	"context"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/rl1809/part-ledger/internal/adapter/storage"
	"github.com/rl1809/part-ledger/internal/core/domain"
	"github.com/rl1809/part-ledger/internal/core/service"
)

func newTestClient(t *testing.T) (*LedgerClient, *service.LedgerService) {
	t.Helper()
	store := storage.NewMemoryStore()
	ledger := service.NewLedgerService(store, store, service.WithIdempotency(storage.NewLocalIdempotency()))
	t.Cleanup(ledger.Close)

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	RegisterLedgerServer(srv, NewGRPCHandler(ledger))
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return NewLedgerClient(conn), ledger
}

func TestGRPC_Reconcile(t *testing.T) {
	client, _ := newTestClient(t)

	delta, err := client.Reconcile(context.Background(), &ReconcileRequest{
		Desired: []domain.CartItem{{NXID: "A", Quantity: 3}},
		Current: []domain.CartItem{{NXID: "A", Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if len(delta.Added) != 1 || delta.Added[0].Quantity != 2 || len(delta.Removed) != 0 {
		t.Errorf("unexpected delta %+v", delta)
	}

	_, err = client.Reconcile(context.Background(), &ReconcileRequest{Desired: []domain.CartItem{{Quantity: 1}}})
	if status.Code(err) != codes.InvalidArgument {
		t.Errorf("expected InvalidArgument, got %v", err)
	}
}

func TestGRPC_TransitionSnapshotTimeline(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()
	room := partsRoom

	_, err := client.ApplyTransition(ctx, &TransitionRequest{
		RequestID: "seed",
		Create:    domain.Template{Container: room, By: "receiving", Date: t0},
		Items:     []domain.CartItem{{NXID: "A", Quantity: 2}, {NXID: "B", Serial: "SN-1"}},
		Migrated:  true,
	})
	if err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	moveReq := &TransitionRequest{
		RequestID: "move-1",
		Create:    domain.Template{Container: domain.Asset("A-1"), By: "tech", Date: t0.Add(time.Minute)},
		Search:    Search{Container: &room},
		Items:     []domain.CartItem{{NXID: "B", Serial: "SN-1"}},
	}
	res, err := client.ApplyTransition(ctx, moveReq)
	if err != nil {
		t.Fatalf("move failed: %v", err)
	}
	if res.Committed() != 1 {
		t.Errorf("expected committed move, got %+v", res)
	}
	if _, err := client.ApplyTransition(ctx, moveReq); status.Code(err) != codes.AlreadyExists {
		t.Errorf("expected AlreadyExists for duplicate, got %v", err)
	}

	snap, err := client.SnapshotAt(ctx, &SnapshotRequest{Container: room, At: t0.Add(time.Minute)})
	if err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}
	if len(snap.Removed) != 1 || snap.Removed[0].Serial != "SN-1" || snap.By != "tech" {
		t.Errorf("unexpected snapshot %+v", snap)
	}
	if len(snap.Existing) != 1 || snap.Existing[0].Quantity != 2 {
		t.Errorf("unexpected existing %+v", snap.Existing)
	}

	tl, err := client.Timeline(ctx, &TimelineRequest{Container: room})
	if err != nil {
		t.Fatalf("timeline failed: %v", err)
	}
	if tl.Total != 2 || !tl.Times[0].Equal(t0.Add(time.Minute)) {
		t.Errorf("unexpected timeline %+v", tl)
	}

	_, err = client.SnapshotAt(ctx, &SnapshotRequest{Container: domain.Container{Kind: domain.KindTerminal, ID: "stolen"}})
	if status.Code(err) != codes.InvalidArgument {
		t.Errorf("expected InvalidArgument, got %v", err)
	}
}
