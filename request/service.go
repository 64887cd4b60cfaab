package request

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"rentflow/booking"
)

var (
	ErrForbidden         = errors.New("request: forbidden")
	ErrInvalidTransition = errors.New("request: invalid transition")
)

// Service coordinates the request lifecycle. Accepting a request
// materialises the booking in the same transaction, so a crash between
// the two writes cannot leave an accepted request without its booking.
type Service struct {
	repo     RequestRepository
	bookings bookingCreator
	now      func() time.Time
}

type bookingCreator interface {
	CreateFromRequestTx(ctx context.Context, tx pgx.Tx, params booking.FromRequestParams) (booking.Booking, error)
}

func NewService(repo RequestRepository) *Service {
	return &Service{
		repo: repo,
		now:  time.Now,
	}
}

func (s *Service) WithBookingRepository(b bookingCreator) *Service {
	s.bookings = b
	return s
}

func (s *Service) Create(ctx context.Context, params CreateParams) (BookingRequest, error) {
	return s.repo.Create(ctx, params)
}

func (s *Service) ListForTool(ctx context.Context, toolID, ownerID string) ([]BookingRequest, error) {
	return s.repo.ListForTool(ctx, toolID, ownerID)
}

func (s *Service) ListForRenter(ctx context.Context, renterID string) ([]BookingRequest, error) {
	return s.repo.ListForRenter(ctx, renterID)
}

type UpdateParams struct {
	RequestID string
	ActorID   string
	NewState  State
	Pool      *pgxpool.Pool
}

type UpdateResult struct {
	Request BookingRequest
	Booking *booking.Booking
}

// UpdateState lets the tool owner accept or decline a pending request.
// Re-accepting an already accepted request is idempotent and returns the
// existing booking.
func (s *Service) UpdateState(ctx context.Context, params UpdateParams) (UpdateResult, error) {
	req, err := s.repo.GetByID(ctx, params.RequestID)
	if err != nil {
		return UpdateResult{}, err
	}

	ownerID, err := s.repo.ToolOwner(ctx, req.ToolID)
	if err != nil {
		return UpdateResult{}, err
	}
	if ownerID != params.ActorID {
		return UpdateResult{}, ErrForbidden
	}
	if params.NewState != StateAccepted && params.NewState != StateDeclined {
		return UpdateResult{}, ErrInvalidTransition
	}
	if req.State == params.NewState && params.NewState == StateDeclined {
		return UpdateResult{Request: req}, nil
	}

	if params.NewState == StateAccepted && s.bookings != nil && params.Pool != nil {
		return s.acceptAndCreateBooking(ctx, params, req)
	}

	updated, err := s.repo.UpdateState(ctx, params.RequestID, params.NewState)
	if err != nil {
		return UpdateResult{}, err
	}
	return UpdateResult{Request: updated}, nil
}

func (s *Service) acceptAndCreateBooking(ctx context.Context, params UpdateParams, req BookingRequest) (UpdateResult, error) {
	tx, err := params.Pool.Begin(ctx)
	if err != nil {
		return UpdateResult{}, fmt.Errorf("request: begin acceptance tx: %w", err)
	}
	defer tx.Rollback(ctx)

	const lockSQL = `
		SELECT state::text
		FROM booking_requests
		WHERE id = $1
		FOR UPDATE
	`
	var currentState string
	if err := tx.QueryRow(ctx, lockSQL, req.ID).Scan(&currentState); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return UpdateResult{}, ErrNotFound
		}
		return UpdateResult{}, fmt.Errorf("request: lock for acceptance: %w", err)
	}

	switch State(currentState) {
	case StateAccepted:
		// Already accepted, continue for the idempotent booking lookup.
	case StatePending:
		if _, err := tx.Exec(ctx, `
			UPDATE booking_requests
			SET state = 'accepted'::request_state, updated_at = now()
			WHERE id = $1
		`, req.ID); err != nil {
			return UpdateResult{}, fmt.Errorf("request: mark accepted: %w", err)
		}
	default:
		return UpdateResult{}, ErrInvalidTransition
	}

	b, err := s.bookings.CreateFromRequestTx(ctx, tx, booking.FromRequestParams{
		RequestID:  req.ID,
		AcceptedBy: params.ActorID,
		AcceptedAt: s.now(),
	})
	if err != nil {
		return UpdateResult{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return UpdateResult{}, fmt.Errorf("request: commit acceptance: %w", err)
	}

	accepted, err := s.repo.GetByID(ctx, req.ID)
	if err != nil {
		return UpdateResult{}, err
	}
	return UpdateResult{
		Request: accepted,
		Booking: &b,
	}, nil
}
