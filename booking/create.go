package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// FromRequestParams carries the information needed to project an accepted
// booking request into the bookings table within a single transaction.
type FromRequestParams struct {
	RequestID  string
	AcceptedBy string
	AcceptedAt time.Time
}

// ErrToolUnavailable signals the listing cannot be booked.
var ErrToolUnavailable = errors.New("booking: tool is not available")

// serviceFeeBps is the platform cut applied to the rental subtotal.
const serviceFeeBps = 1000

// CreateFromRequestTx materialises a confirmed booking for an accepted
// request. It is designed to run inside the caller's transaction so the
// surrounding row locks uphold the one-booking-per-request guarantee.
// Retries return the already-created booking unchanged.
func (r *Repository) CreateFromRequestTx(ctx context.Context, tx pgx.Tx, params FromRequestParams) (Booking, error) {
	if params.RequestID == "" {
		return Booking{}, fmt.Errorf("booking: request acceptance missing request id")
	}

	var (
		toolID   string
		renterID string
		state    string
		start    time.Time
		end      time.Time
	)
	const requestSQL = `
		SELECT tool_id::text, renter_id::text, state::text, start_date, end_date
		FROM booking_requests
		WHERE id = $1
		FOR UPDATE
	`
	if err := tx.QueryRow(ctx, requestSQL, params.RequestID).Scan(&toolID, &renterID, &state, &start, &end); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Booking{}, fmt.Errorf("booking: request %s not found", params.RequestID)
		}
		return Booking{}, fmt.Errorf("booking: load request: %w", err)
	}
	if state != "accepted" {
		return Booking{}, fmt.Errorf("booking: request %s is not accepted (state=%s)", params.RequestID, state)
	}

	var (
		ownerID        string
		dailyRateCents int64
		depositCents   int64
		available      bool
	)
	const toolSQL = `
		SELECT owner_id::text, daily_rate_cents, deposit_cents, available
		FROM tools
		WHERE id = $1
		FOR UPDATE
	`
	if err := tx.QueryRow(ctx, toolSQL, toolID).Scan(&ownerID, &dailyRateCents, &depositCents, &available); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Booking{}, fmt.Errorf("booking: tool %s not found", toolID)
		}
		return Booking{}, fmt.Errorf("booking: load tool: %w", err)
	}
	if !available {
		return Booking{}, ErrToolUnavailable
	}

	// Idempotency: return the existing booking if a retry already created
	// one. Checked before mutating anything.
	existing, err := scanBooking(tx.QueryRow(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE request_id = $1 LIMIT 1`, params.RequestID))
	switch {
	case err == nil:
		return existing, nil
	case errors.Is(err, ErrNotFound):
		// continue with insert
	default:
		return Booking{}, fmt.Errorf("booking: check existing booking: %w", err)
	}

	// The stored end date is exclusive, so the day count is a plain
	// difference.
	days := int64(end.Sub(start).Hours() / 24)
	if days < 1 {
		days = 1
	}
	subtotal := dailyRateCents * days
	serviceFee := subtotal * serviceFeeBps / 10000

	const insertSQL = `
		INSERT INTO bookings
			(request_id, tool_id, renter_id, owner_id, status, start_date, end_date,
			 subtotal_cents, service_fee_cents, deposit_cents)
		VALUES ($1, $2, $3, $4, 'confirmed', $5, $6, $7, $8, $9)
		RETURNING ` + bookingColumns

	b, err := scanBooking(tx.QueryRow(ctx, insertSQL,
		params.RequestID, toolID, renterID, ownerID, start, end,
		subtotal, serviceFee, depositCents))
	if err != nil {
		return Booking{}, fmt.Errorf("booking: insert from request: %w", err)
	}

	payload, err := json.Marshal(map[string]any{
		"booking_id":  b.ID,
		"request_id":  params.RequestID,
		"tool_id":     toolID,
		"renter_id":   renterID,
		"owner_id":    ownerID,
		"accepted_by": params.AcceptedBy,
		"accepted_at": params.AcceptedAt.UTC(),
	})
	if err != nil {
		return Booking{}, fmt.Errorf("booking: marshal outbox payload: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO outbox (topic, payload) VALUES ('booking.created', $1::jsonb)`, payload); err != nil {
		return Booking{}, fmt.Errorf("booking: enqueue outbox: %w", err)
	}

	return b, nil
}
