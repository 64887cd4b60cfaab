package request

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"rentflow/booking"
)

// TestRequestAcceptance_Integration connects to a real PostgreSQL via
// DATABASE_URL and verifies that accepting a request creates exactly one
// booking, no matter how often the acceptance is retried.
func TestRequestAcceptance_Integration(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL is empty; set it to a live PostgreSQL to run integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect pool: %v", err)
	}
	defer pool.Close()

	for _, table := range []string{"tools", "booking_requests", "bookings", "outbox"} {
		if !tableExists(ctx, t, pool, table) {
			t.Skipf("database schema missing table %s; apply migrations first", table)
		}
	}

	var renterID, ownerID, toolID string
	if err := pool.QueryRow(ctx, `INSERT INTO users (email, full_name, role) VALUES ($1, 'Riley Renter', 'renter') RETURNING id`,
		fmt.Sprintf("riley+req%d@example.com", time.Now().UnixNano())).Scan(&renterID); err != nil {
		t.Fatalf("seed renter: %v", err)
	}
	if err := pool.QueryRow(ctx, `INSERT INTO users (email, full_name, role) VALUES ($1, 'Olive Owner', 'owner') RETURNING id`,
		fmt.Sprintf("olive+req%d@example.com", time.Now().UnixNano())).Scan(&ownerID); err != nil {
		t.Fatalf("seed owner: %v", err)
	}
	if err := pool.QueryRow(ctx, `
		INSERT INTO tools (owner_id, title, daily_rate_cents, deposit_cents)
		VALUES ($1, 'Cordless Drill', 2000, 5000)
		RETURNING id`, ownerID).Scan(&toolID); err != nil {
		t.Fatalf("seed tool: %v", err)
	}

	repo := NewRepository(pool)
	svc := NewService(repo).WithBookingRepository(booking.NewRepository(pool))

	start := time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)
	req, err := svc.Create(ctx, CreateParams{
		ToolID:    toolID,
		RenterID:  renterID,
		Message:   "weekend project",
		Start:     start,
		EndStored: start.AddDate(0, 0, 3),
	})
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	if req.State != StatePending {
		t.Fatalf("expected pending, got %s", req.State)
	}

	if _, err := svc.Create(ctx, CreateParams{
		ToolID: toolID, RenterID: renterID, Start: start, EndStored: start.AddDate(0, 0, 3),
	}); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected duplicate guard, got %v", err)
	}

	// non-owner cannot decide
	if _, err := svc.UpdateState(ctx, UpdateParams{
		RequestID: req.ID, ActorID: renterID, NewState: StateAccepted, Pool: pool,
	}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden for renter, got %v", err)
	}

	res, err := svc.UpdateState(ctx, UpdateParams{
		RequestID: req.ID, ActorID: ownerID, NewState: StateAccepted, Pool: pool,
	})
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if res.Request.State != StateAccepted {
		t.Fatalf("expected accepted, got %s", res.Request.State)
	}
	if res.Booking == nil {
		t.Fatal("acceptance must create a booking")
	}
	// 3 rental days at 2000 with a 10% fee
	if res.Booking.Totals.SubtotalCents != 6000 || res.Booking.Totals.ServiceFeeCents != 600 {
		t.Fatalf("unexpected totals: %+v", res.Booking.Totals)
	}
	if res.Booking.Totals.DepositCents != 5000 {
		t.Fatalf("deposit must come from the listing, got %d", res.Booking.Totals.DepositCents)
	}

	// retrying the acceptance returns the same booking
	again, err := svc.UpdateState(ctx, UpdateParams{
		RequestID: req.ID, ActorID: ownerID, NewState: StateAccepted, Pool: pool,
	})
	if err != nil {
		t.Fatalf("repeat accept: %v", err)
	}
	if again.Booking == nil || again.Booking.ID != res.Booking.ID {
		t.Fatalf("expected the same booking on retry, got %+v", again.Booking)
	}

	var count int
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM bookings WHERE request_id = $1`, req.ID).Scan(&count); err != nil {
		t.Fatalf("count bookings: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly one booking for the request, got %d", count)
	}
}

func tableExists(ctx context.Context, t *testing.T, pool *pgxpool.Pool, name string) bool {
	t.Helper()
	var exists bool
	if err := pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = $1)`, name).Scan(&exists); err != nil {
		t.Fatalf("check table %s: %v", name, err)
	}
	return exists
}
