package request

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type State string

const (
	StatePending  State = "pending"
	StateAccepted State = "accepted"
	StateDeclined State = "declined"
)

// BookingRequest represents a renter asking to book a tool for a date
// range. The stored end date is exclusive, matching the bookings table.
type BookingRequest struct {
	ID        string
	ToolID    string
	RenterID  string
	State     State
	Message   string
	Start     time.Time
	EndStored time.Time
	CreatedAt time.Time
}

// CreateParams enumerates the required fields to insert a new request.
type CreateParams struct {
	ToolID    string
	RenterID  string
	Message   string
	Start     time.Time
	EndStored time.Time
}

type RequestRepository interface {
	ListForTool(ctx context.Context, toolID, ownerID string) ([]BookingRequest, error)
	Create(ctx context.Context, params CreateParams) (BookingRequest, error)
	ListForRenter(ctx context.Context, renterID string) ([]BookingRequest, error)
	GetByID(ctx context.Context, requestID string) (BookingRequest, error)
	UpdateState(ctx context.Context, requestID string, state State) (BookingRequest, error)
	ToolOwner(ctx context.Context, toolID string) (string, error)
}

var (
	ErrNotFound        = errors.New("request: not found")
	ErrDuplicate       = errors.New("request: request already exists")
	ErrInvalidState    = errors.New("request: invalid state")
	ErrInvalidRange    = errors.New("request: end must be after start")
	ErrToolNotOwned    = errors.New("request: tool not owned by user")
	ErrRenterMandatory = errors.New("request: renter id required")
)

type PGRequestRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRequestRepository {
	return &PGRequestRepository{pool: pool}
}

const requestColumns = `id, tool_id, renter_id, state::text, message, start_date, end_date, created_at`

func scanRequest(row pgx.Row) (BookingRequest, error) {
	var r BookingRequest
	err := row.Scan(&r.ID, &r.ToolID, &r.RenterID, &r.State, &r.Message, &r.Start, &r.EndStored, &r.CreatedAt)
	return r, err
}

func (r *PGRequestRepository) ListForTool(ctx context.Context, toolID, ownerID string) ([]BookingRequest, error) {
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM tools WHERE id=$1 AND owner_id=$2)`, toolID, ownerID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("request: verify owner: %w", err)
	}
	if !exists {
		return nil, ErrToolNotOwned
	}

	const query = `
		SELECT ` + requestColumns + `
		FROM booking_requests
		WHERE tool_id = $1
		ORDER BY created_at DESC
	`

	rows, err := r.pool.Query(ctx, query, toolID)
	if err != nil {
		return nil, fmt.Errorf("request: list for tool: %w", err)
	}
	defer rows.Close()

	return collect(rows)
}

func (r *PGRequestRepository) Create(ctx context.Context, params CreateParams) (BookingRequest, error) {
	if params.RenterID == "" {
		return BookingRequest{}, ErrRenterMandatory
	}
	if !params.EndStored.After(params.Start) {
		return BookingRequest{}, ErrInvalidRange
	}

	const query = `
		INSERT INTO booking_requests (tool_id, renter_id, message, start_date, end_date)
		SELECT t.id, $2, $3, $4, $5
		FROM tools t
		WHERE t.id = $1 AND t.available
		RETURNING ` + requestColumns

	req, err := scanRequest(r.pool.QueryRow(ctx, query,
		params.ToolID,
		params.RenterID,
		params.Message,
		params.Start,
		params.EndStored,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return BookingRequest{}, ErrNotFound
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return BookingRequest{}, ErrDuplicate
		}
		return BookingRequest{}, fmt.Errorf("request: create: %w", err)
	}
	return req, nil
}

func (r *PGRequestRepository) ListForRenter(ctx context.Context, renterID string) ([]BookingRequest, error) {
	const query = `
		SELECT ` + requestColumns + `
		FROM booking_requests
		WHERE renter_id = $1
		ORDER BY created_at DESC
	`

	rows, err := r.pool.Query(ctx, query, renterID)
	if err != nil {
		return nil, fmt.Errorf("request: list for renter: %w", err)
	}
	defer rows.Close()

	return collect(rows)
}

func (r *PGRequestRepository) GetByID(ctx context.Context, requestID string) (BookingRequest, error) {
	req, err := scanRequest(r.pool.QueryRow(ctx,
		`SELECT `+requestColumns+` FROM booking_requests WHERE id = $1`, requestID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return BookingRequest{}, ErrNotFound
		}
		return BookingRequest{}, fmt.Errorf("request: get: %w", err)
	}
	return req, nil
}

func (r *PGRequestRepository) UpdateState(ctx context.Context, requestID string, state State) (BookingRequest, error) {
	const query = `
		UPDATE booking_requests
		SET state = $2::request_state, updated_at = now()
		WHERE id = $1
		RETURNING ` + requestColumns

	req, err := scanRequest(r.pool.QueryRow(ctx, query, requestID, state))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return BookingRequest{}, ErrNotFound
		}
		return BookingRequest{}, fmt.Errorf("request: update state: %w", err)
	}
	return req, nil
}

// ToolOwner resolves the owner of the tool a request targets.
func (r *PGRequestRepository) ToolOwner(ctx context.Context, toolID string) (string, error) {
	var ownerID string
	if err := r.pool.QueryRow(ctx, `SELECT owner_id::text FROM tools WHERE id = $1`, toolID).Scan(&ownerID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("request: tool owner: %w", err)
	}
	return ownerID, nil
}

func collect(rows pgx.Rows) ([]BookingRequest, error) {
	out := make([]BookingRequest, 0, 8)
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("request: scan: %w", err)
		}
		out = append(out, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("request: iterate: %w", err)
	}
	return out, nil
}
