package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("booking: not found")

const bookingColumns = `
	id, renter_id, owner_id, status::text, start_date, end_date,
	subtotal_cents, service_fee_cents, deposit_cents, platform_fee_cents, owner_payout_cents,
	dispute_window_expires_at, deposit_hold_id, charge_payment_intent_id, deposit_locked,
	created_at, updated_at
`

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanBooking(row pgx.Row) (Booking, error) {
	var b Booking
	err := row.Scan(&b.ID, &b.RenterID, &b.OwnerID, &b.Status, &b.Start, &b.EndStored,
		&b.Totals.SubtotalCents, &b.Totals.ServiceFeeCents, &b.Totals.DepositCents,
		&b.Totals.PlatformFeeCents, &b.Totals.OwnerPayoutCents,
		&b.DisputeWindowExpiresAt, &b.DepositHoldID, &b.ChargePaymentIntentID, &b.DepositLocked,
		&b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Booking{}, ErrNotFound
		}
		return Booking{}, fmt.Errorf("booking: scan: %w", err)
	}
	return b, nil
}

func (r *Repository) Get(ctx context.Context, bookingID string) (Booking, error) {
	return scanBooking(r.pool.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, bookingID))
}

// GetForUpdate locks the row inside the caller's transaction so an
// operator override reads a stable totals snapshot.
func (r *Repository) GetForUpdate(ctx context.Context, tx pgx.Tx, bookingID string) (Booking, error) {
	return scanBooking(tx.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1 FOR UPDATE`, bookingID))
}

// UpdateDatesTx persists an adjusted date range and its recomputed totals.
// endStored must already carry the end-exclusive offset.
func (r *Repository) UpdateDatesTx(ctx context.Context, tx pgx.Tx, bookingID string, start, endStored time.Time, totals Totals) (Booking, error) {
	const query = `
		UPDATE bookings
		SET start_date = $2, end_date = $3,
		    subtotal_cents = $4, service_fee_cents = $5,
		    updated_at = now()
		WHERE id = $1
		RETURNING ` + bookingColumns
	return scanBooking(tx.QueryRow(ctx, query, bookingID, start, endStored,
		totals.SubtotalCents, totals.ServiceFeeCents))
}

// UpdateStatusTx force-sets the booking status for operator overrides.
func (r *Repository) UpdateStatusTx(ctx context.Context, tx pgx.Tx, bookingID string, status Status) (Booking, error) {
	const query = `
		UPDATE bookings
		SET status = $2::booking_status, updated_at = now()
		WHERE id = $1
		RETURNING ` + bookingColumns
	return scanBooking(tx.QueryRow(ctx, query, bookingID, status))
}

// SetDepositLockedTx flips the deposit lock flag; the finance collaborator
// owns the hold itself.
func (r *Repository) SetDepositLockedTx(ctx context.Context, tx pgx.Tx, bookingID string, locked bool) (Booking, error) {
	const query = `
		UPDATE bookings
		SET deposit_locked = $2, updated_at = now()
		WHERE id = $1
		RETURNING ` + bookingColumns
	return scanBooking(tx.QueryRow(ctx, query, bookingID, locked))
}
