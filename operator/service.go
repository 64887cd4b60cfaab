package operator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"rentflow/booking"
	"rentflow/dispute"
)

var (
	ErrReasonRequired = errors.New("operator: a reason is required for every override")
	ErrDepositLocked  = errors.New("operator: deposit is locked by an open dispute")
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// BookingStore is the booking data access the override surface needs.
type BookingStore interface {
	Get(ctx context.Context, bookingID string) (booking.Booking, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, bookingID string) (booking.Booking, error)
	UpdateDatesTx(ctx context.Context, tx pgx.Tx, bookingID string, start, endStored time.Time, totals booking.Totals) (booking.Booking, error)
	UpdateStatusTx(ctx context.Context, tx pgx.Tx, bookingID string, status booking.Status) (booking.Booking, error)
	SetDepositLockedTx(ctx context.Context, tx pgx.Tx, bookingID string, locked bool) (booking.Booking, error)
}

// DisputeResolver is the privileged resolution entry point on the dispute
// service.
type DisputeResolver interface {
	Resolve(ctx context.Context, disputeID string, outcome dispute.Status, actorID string) (dispute.Dispute, error)
}

// FinanceGateway owns deposit holds and payment intents. This subsystem
// only references them; all money movement happens behind this interface.
type FinanceGateway interface {
	CaptureDeposit(ctx context.Context, holdID string) error
	ReleaseDeposit(ctx context.Context, holdID string) error
	Refund(ctx context.Context, paymentIntentID string, amountCents int64) error
}

// Service is the staff-only override surface: force transitions and date
// adjustments outside the normal actor-driven flow, each audited with a
// mandatory reason.
type Service struct {
	pool     TxBeginner
	bookings BookingStore
	disputes DisputeResolver
	finance  FinanceGateway
	audit    AuditLog
}

func NewService(pool TxBeginner, bookings BookingStore, audit AuditLog) *Service {
	if audit == nil {
		audit = NewAuditLog()
	}
	return &Service{
		pool:     pool,
		bookings: bookings,
		audit:    audit,
	}
}

func (s *Service) WithDisputeResolver(r DisputeResolver) *Service {
	s.disputes = r
	return s
}

func (s *Service) WithFinanceGateway(g FinanceGateway) *Service {
	s.finance = g
	return s
}

// AdjustParams proposes a new inclusive date range for a booking. NewEnd
// is the proposed last rental day; the end-exclusive offset is applied at
// persistence time.
type AdjustParams struct {
	BookingID string
	ActorID   string
	NewStart  time.Time
	NewEnd    time.Time
	Reason    string
}

// AdjustResult carries the mutated booking plus the quote that was shown
// to the operator, so the view refreshes without a second round-trip.
type AdjustResult struct {
	Booking booking.Booking
	Quote   booking.AdjustQuote
}

// AdjustDates recomputes prorated totals for the proposed range and
// persists both dates and totals atomically with the audit entry. Invalid
// and no-op ranges are refused before any write.
func (s *Service) AdjustDates(ctx context.Context, params AdjustParams) (AdjustResult, error) {
	if err := requireReason(params.Reason); err != nil {
		return AdjustResult{}, err
	}
	if params.ActorID == "" {
		return AdjustResult{}, fmt.Errorf("operator: missing actor id")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return AdjustResult{}, fmt.Errorf("operator: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	current, err := s.bookings.GetForUpdate(ctx, tx, params.BookingID)
	if err != nil {
		return AdjustResult{}, err
	}

	quote, err := booking.QuoteAdjustment(current, params.NewStart, params.NewEnd)
	if err != nil {
		return AdjustResult{}, err
	}

	updated, err := s.bookings.UpdateDatesTx(ctx, tx, params.BookingID, quote.NewStart, quote.NewEndStored, quote.Proposed)
	if err != nil {
		return AdjustResult{}, err
	}

	entry := AuditEntry{
		ActorID:    params.ActorID,
		Action:     "booking.adjust_dates",
		TargetKind: "booking",
		TargetID:   params.BookingID,
		Reason:     params.Reason,
		Payload: map[string]any{
			"old_start":   current.Start,
			"old_end":     current.EndStored,
			"new_start":   quote.NewStart,
			"new_end":     quote.NewEndStored,
			"delta_cents": quote.DeltaCents,
			"action":      quote.Action,
		},
	}
	if err := s.audit.RecordTx(ctx, tx, entry); err != nil {
		return AdjustResult{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return AdjustResult{}, fmt.Errorf("operator: commit adjust: %w", err)
	}
	return AdjustResult{Booking: updated, Quote: quote}, nil
}

// ForceCancel cancels the booking regardless of dispute state.
func (s *Service) ForceCancel(ctx context.Context, bookingID, actorID, reason string) (booking.Booking, error) {
	return s.forceStatus(ctx, bookingID, actorID, reason, booking.StatusCancelled, "booking.force_cancel")
}

// ForceComplete completes the booking regardless of dispute state.
func (s *Service) ForceComplete(ctx context.Context, bookingID, actorID, reason string) (booking.Booking, error) {
	return s.forceStatus(ctx, bookingID, actorID, reason, booking.StatusCompleted, "booking.force_complete")
}

func (s *Service) forceStatus(ctx context.Context, bookingID, actorID, reason string, status booking.Status, action string) (booking.Booking, error) {
	if err := requireReason(reason); err != nil {
		return booking.Booking{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return booking.Booking{}, fmt.Errorf("operator: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	current, err := s.bookings.GetForUpdate(ctx, tx, bookingID)
	if err != nil {
		return booking.Booking{}, err
	}

	updated, err := s.bookings.UpdateStatusTx(ctx, tx, bookingID, status)
	if err != nil {
		return booking.Booking{}, err
	}

	entry := AuditEntry{
		ActorID:    actorID,
		Action:     action,
		TargetKind: "booking",
		TargetID:   bookingID,
		Reason:     reason,
		Payload: map[string]any{
			"previous_status": current.Status,
			"next_status":     status,
		},
	}
	if err := s.audit.RecordTx(ctx, tx, entry); err != nil {
		return booking.Booking{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return booking.Booking{}, fmt.Errorf("operator: commit force status: %w", err)
	}
	return updated, nil
}

// CaptureDeposit captures the damage deposit hold. Refused while the
// deposit is locked by an open dispute.
func (s *Service) CaptureDeposit(ctx context.Context, bookingID, actorID, reason string) (booking.Booking, error) {
	return s.depositAction(ctx, bookingID, actorID, reason, "booking.capture_deposit", func(ctx context.Context, b booking.Booking) error {
		return s.finance.CaptureDeposit(ctx, b.DepositHoldID)
	})
}

// ReleaseDeposit releases the damage deposit hold back to the renter.
func (s *Service) ReleaseDeposit(ctx context.Context, bookingID, actorID, reason string) (booking.Booking, error) {
	return s.depositAction(ctx, bookingID, actorID, reason, "booking.release_deposit", func(ctx context.Context, b booking.Booking) error {
		return s.finance.ReleaseDeposit(ctx, b.DepositHoldID)
	})
}

func (s *Service) depositAction(ctx context.Context, bookingID, actorID, reason, action string, run func(context.Context, booking.Booking) error) (booking.Booking, error) {
	if err := requireReason(reason); err != nil {
		return booking.Booking{}, err
	}
	if s.finance == nil {
		return booking.Booking{}, fmt.Errorf("operator: no finance gateway configured")
	}

	b, err := s.bookings.Get(ctx, bookingID)
	if err != nil {
		return booking.Booking{}, err
	}
	if b.DepositLocked {
		return booking.Booking{}, ErrDepositLocked
	}
	if b.DepositHoldID == "" {
		return booking.Booking{}, fmt.Errorf("operator: booking has no deposit hold")
	}

	if err := run(ctx, b); err != nil {
		return booking.Booking{}, fmt.Errorf("operator: finance gateway: %w", err)
	}

	if err := s.recordAudit(ctx, AuditEntry{
		ActorID:    actorID,
		Action:     action,
		TargetKind: "booking",
		TargetID:   bookingID,
		Reason:     reason,
		Payload:    map[string]any{"deposit_hold_id": b.DepositHoldID},
	}); err != nil {
		return booking.Booking{}, err
	}
	return b, nil
}

// RefundBooking issues a refund against the booking's charge.
func (s *Service) RefundBooking(ctx context.Context, bookingID, actorID string, amountCents int64, reason string) (booking.Booking, error) {
	if err := requireReason(reason); err != nil {
		return booking.Booking{}, err
	}
	if s.finance == nil {
		return booking.Booking{}, fmt.Errorf("operator: no finance gateway configured")
	}
	if amountCents <= 0 {
		return booking.Booking{}, fmt.Errorf("operator: refund amount must be positive")
	}

	b, err := s.bookings.Get(ctx, bookingID)
	if err != nil {
		return booking.Booking{}, err
	}
	if b.ChargePaymentIntentID == "" {
		return booking.Booking{}, fmt.Errorf("operator: booking has no charge to refund")
	}

	if err := s.finance.Refund(ctx, b.ChargePaymentIntentID, amountCents); err != nil {
		return booking.Booking{}, fmt.Errorf("operator: finance gateway: %w", err)
	}

	if err := s.recordAudit(ctx, AuditEntry{
		ActorID:    actorID,
		Action:     "booking.refund",
		TargetKind: "booking",
		TargetID:   bookingID,
		Reason:     reason,
		Payload:    map[string]any{"amount_cents": amountCents},
	}); err != nil {
		return booking.Booking{}, err
	}
	return b, nil
}

// ResolveDispute force-resolves a dispute to an administrative outcome,
// the privileged counterpart of the opener-only close.
func (s *Service) ResolveDispute(ctx context.Context, disputeID string, outcome dispute.Status, actorID, reason string) (dispute.Dispute, error) {
	if err := requireReason(reason); err != nil {
		return dispute.Dispute{}, err
	}
	if s.disputes == nil {
		return dispute.Dispute{}, fmt.Errorf("operator: no dispute resolver configured")
	}

	d, err := s.disputes.Resolve(ctx, disputeID, outcome, actorID)
	if err != nil {
		return dispute.Dispute{}, err
	}

	if err := s.recordAudit(ctx, AuditEntry{
		ActorID:    actorID,
		Action:     "dispute.resolve",
		TargetKind: "dispute",
		TargetID:   disputeID,
		Reason:     reason,
		Payload:    map[string]any{"outcome": outcome},
	}); err != nil {
		return dispute.Dispute{}, err
	}
	return d, nil
}

func (s *Service) recordAudit(ctx context.Context, entry AuditEntry) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("operator: begin audit tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.audit.RecordTx(ctx, tx, entry); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("operator: commit audit: %w", err)
	}
	return nil
}

func requireReason(reason string) error {
	if strings.TrimSpace(reason) == "" {
		return ErrReasonRequired
	}
	return nil
}
