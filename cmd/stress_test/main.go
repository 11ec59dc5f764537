package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/rl1809/part-ledger/internal/adapter/handler"
	"github.com/rl1809/part-ledger/internal/core/domain"
)

// Seeds a parts room with stock, then races many checkouts of one unit each
// against it over gRPC. Exactly initialStock checkouts may commit.
func main() {
	addr := flag.String("addr", "localhost:50051", "ledger gRPC address")
	initialStock := flag.Int("stock", 20, "units seeded into the parts room")
	totalRequests := flag.Int("requests", 50, "concurrent single-unit checkouts")
	flag.Parse()

	ctx := context.Background()

	conn, err := grpc.NewClient(*addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		log.Fatalf("failed to dial ledger: %v", err)
	}
	defer conn.Close()
	client := handler.NewLedgerClient(conn)

	run := uuid.NewString()[:8]
	nxid := "STRESS-" + run
	room := domain.Location("stress-room-" + run)
	const building = 1

	// Seed stock
	_, err = client.ApplyTransition(ctx, &handler.TransitionRequest{
		RequestID: "seed-" + run,
		Create:    domain.Template{Container: room, Building: building, By: "stress"},
		Items:     []domain.CartItem{{NXID: nxid, Quantity: *initialStock}},
		Migrated:  true,
	})
	if err != nil {
		log.Fatalf("failed to seed stock: %v", err)
	}

	// Counters
	var successCount atomic.Int32
	var skipCount atomic.Int32
	var errCount atomic.Int32

	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < *totalRequests; i++ {
		wg.Add(1)
		go func(user int) {
			defer wg.Done()

			res, err := client.ApplyTransition(ctx, &handler.TransitionRequest{
				RequestID: fmt.Sprintf("checkout-%s-%d", run, user),
				Create:    domain.Template{Container: domain.Owner(fmt.Sprintf("user-%d", user)), Building: building, By: fmt.Sprintf("user-%d", user)},
				Search:    handler.Search{Container: &room, Building: building},
				Items:     []domain.CartItem{{NXID: nxid, Quantity: 1}},
			})
			switch {
			case err != nil:
				errCount.Add(1)
			case res.Committed() == 1:
				successCount.Add(1)
			default:
				skipCount.Add(1)
			}
		}(i)
	}

	wg.Wait()
	elapsed := time.Since(start)

	success := successCount.Load()
	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Initial Stock:    %d\n", *initialStock)
	fmt.Printf("Total Requests:   %d\n", *totalRequests)
	fmt.Printf("Committed:        %d\n", success)
	fmt.Printf("Skipped:          %d\n", skipCount.Load())
	fmt.Printf("Errors:           %d\n", errCount.Load())
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	want := int32(min(*initialStock, *totalRequests))
	if success == want {
		fmt.Printf("PASS: exactly %d checkouts committed\n", want)
	} else {
		fmt.Printf("FAIL: expected %d committed, got %d\n", want, success)
	}

	// Verify the parts room is drained by the expected amount
	snap, err := client.SnapshotAt(ctx, &handler.SnapshotRequest{Container: room, At: time.Now().Add(time.Second)})
	if err != nil {
		log.Fatalf("failed to read snapshot: %v", err)
	}
	left := domain.Units(snap.Existing)
	fmt.Printf("Units left in room: %d\n", left)
	if left == *initialStock-int(success) {
		fmt.Println("PASS: unit count conserved")
	} else {
		fmt.Printf("FAIL: expected %d units left, got %d\n", *initialStock-int(success), left)
	}
}
