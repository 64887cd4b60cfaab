package dispute

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"

	"rentflow/evidence"
)

var (
	ErrDescriptionTooShort = errors.New("dispute: description must be at least 10 characters")
	ErrInvalidCategory     = errors.New("dispute: unknown category")
	ErrEmptyMessage        = errors.New("dispute: message text required")
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Repo defines the data access required by the lifecycle service.
type Repo interface {
	CreateTx(ctx context.Context, tx pgx.Tx, params CreateParams) (Dispute, error)
	Get(ctx context.Context, disputeID string) (Dispute, error)
	InsertMessage(ctx context.Context, tx pgx.Tx, disputeID string, role Role, actorID *string, text string) (Message, error)
	InsertEvidence(ctx context.Context, tx pgx.Tx, disputeID string, params EvidenceParams) (Evidence, bool, error)
	CloseTx(ctx context.Context, tx pgx.Tx, disputeID, actorID string) (Dispute, error)
	ResolveTx(ctx context.Context, tx pgx.Tx, disputeID string, outcome Status, actorID string) (Dispute, error)
}

// Service owns the dispute lifecycle: create, message, evidence
// registration, close. Every mutation is transactional and re-checks the
// write-lock at the SQL level; the service-level checks exist so callers
// get the right error without a round-trip to a guard clause in SQL.
type Service struct {
	pool  TxBeginner
	repo  Repo
	sends sendQueue
}

func NewService(pool TxBeginner, repo Repo) *Service {
	return &Service{
		pool: pool,
		repo: repo,
	}
}

// Create opens a dispute. The evidence bar for the chosen flow is checked
// by the upload pipeline before this runs; the description minimum is
// re-checked here as the server-side mirror of the client rule.
func (s *Service) Create(ctx context.Context, params CreateParams) (Dispute, error) {
	if params.BookingID == "" {
		return Dispute{}, fmt.Errorf("dispute: missing booking id")
	}
	if params.OpenedBy == "" {
		return Dispute{}, fmt.Errorf("dispute: missing opener")
	}
	if !ValidCategory(params.Category) {
		return Dispute{}, ErrInvalidCategory
	}
	if params.Flow == "" {
		params.Flow = evidence.FlowGeneric
	}
	if len(strings.TrimSpace(params.Description)) < evidence.MinDescriptionLen {
		return Dispute{}, ErrDescriptionTooShort
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Dispute{}, fmt.Errorf("dispute: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	d, err := s.repo.CreateTx(ctx, tx, params)
	if err != nil {
		return Dispute{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Dispute{}, fmt.Errorf("dispute: commit create: %w", err)
	}
	return d, nil
}

// AppendMessage appends to the thread and returns the server-echoed
// message; callers append that echo to their local list rather than
// mutating optimistically. Sends are serialized per dispute so two rapid
// sends from the same client cannot persist out of order.
func (s *Service) AppendMessage(ctx context.Context, disputeID, actorID string, role Role, text string) (Message, error) {
	if strings.TrimSpace(text) == "" {
		return Message{}, ErrEmptyMessage
	}
	if !ValidRole(role) {
		return Message{}, fmt.Errorf("dispute: invalid role %q", role)
	}

	unlock := s.sends.lock(disputeID)
	defer unlock()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Message{}, fmt.Errorf("dispute: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var actor *string
	if actorID != "" {
		actor = &actorID
	}
	m, err := s.repo.InsertMessage(ctx, tx, disputeID, role, actor, text)
	if err != nil {
		return Message{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Message{}, fmt.Errorf("dispute: commit message: %w", err)
	}
	return m, nil
}

// RegisterEvidence records a verified upload. The storage key acts as the
// idempotency key: re-registering the same key returns the existing record
// without emitting a second notification.
func (s *Service) RegisterEvidence(ctx context.Context, disputeID string, params EvidenceParams) (Evidence, error) {
	if params.S3Key == "" {
		return Evidence{}, fmt.Errorf("dispute: missing storage key")
	}
	if params.IntegrityToken == "" {
		return Evidence{}, fmt.Errorf("dispute: missing integrity token")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Evidence{}, fmt.Errorf("dispute: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	e, _, err := s.repo.InsertEvidence(ctx, tx, disputeID, params)
	if err != nil {
		return Evidence{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Evidence{}, fmt.Errorf("dispute: commit evidence: %w", err)
	}
	return e, nil
}

// Close transitions the dispute to its opener-closed state. Only the
// opener may close through this path; staff use the operator surface.
func (s *Service) Close(ctx context.Context, disputeID, actorID string) (Dispute, error) {
	if actorID == "" {
		return Dispute{}, ErrForbidden
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Dispute{}, fmt.Errorf("dispute: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	d, err := s.repo.CloseTx(ctx, tx, disputeID, actorID)
	if err != nil {
		return Dispute{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Dispute{}, fmt.Errorf("dispute: commit close: %w", err)
	}
	return d, nil
}

// Resolve is the privileged force-resolution path used by the operator
// surface; it bypasses the opener check but still refuses to re-resolve.
func (s *Service) Resolve(ctx context.Context, disputeID string, outcome Status, actorID string) (Dispute, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Dispute{}, fmt.Errorf("dispute: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	d, err := s.repo.ResolveTx(ctx, tx, disputeID, outcome, actorID)
	if err != nil {
		return Dispute{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Dispute{}, fmt.Errorf("dispute: commit resolve: %w", err)
	}
	return d, nil
}

// Retrieve refetches the dispute. Mutations that change the shape of the
// record (evidence, closure) refresh through this instead of patching
// local state.
func (s *Service) Retrieve(ctx context.Context, disputeID string) (Dispute, error) {
	return s.repo.Get(ctx, disputeID)
}

// sendQueue serializes message sends per dispute. Without it, two rapid
// sends are independent round-trips whose completion order under retry is
// not guaranteed to match invocation order.
type sendQueue struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (q *sendQueue) lock(disputeID string) func() {
	q.mu.Lock()
	if q.locks == nil {
		q.locks = make(map[string]*sync.Mutex)
	}
	l, ok := q.locks[disputeID]
	if !ok {
		l = &sync.Mutex{}
		q.locks[disputeID] = l
	}
	q.mu.Unlock()

	l.Lock()
	return l.Unlock
}
