package dispute

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"rentflow/evidence"
)

var (
	ErrNotFound    = errors.New("dispute: not found")
	ErrForbidden   = errors.New("dispute: forbidden")
	ErrWriteLocked = errors.New("dispute: dispute is closed and accepts no further changes")
	ErrBadStatus   = errors.New("dispute: invalid status transition")
)

const (
	// EvidenceWindow and RebuttalWindow drive the countdown deadlines.
	EvidenceWindow = 72 * time.Hour
	RebuttalWindow = 72 * time.Hour
)

// lockedSet is inlined into SQL guards so the write-lock holds even if a
// caller bypasses the service-level check.
const lockedSet = `('resolved_renter','resolved_owner','resolved_partial','closed_by_opener','closed_auto')`

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CreateParams enumerates the fields required to open a dispute.
type CreateParams struct {
	BookingID   string
	OpenedBy    string
	Category    Category
	Flow        evidence.FlowKind
	Description string
}

// CreateTx opens the dispute in its initial intake state and records the
// timeline event and outbox notification in the same transaction.
func (r *Repository) CreateTx(ctx context.Context, tx pgx.Tx, params CreateParams) (Dispute, error) {
	const query = `
		INSERT INTO disputes (booking_id, category, flow_kind, description, opened_by, status, evidence_due_at)
		VALUES ($1, $2, $3, $4, $5, 'intake_missing_evidence', now() + $6::interval)
		RETURNING id, booking_id, category, flow_kind, description, opened_by, status::text,
		          evidence_due_at, rebuttal_due_at, created_at, updated_at
	`

	var d Dispute
	err := tx.QueryRow(ctx, query,
		params.BookingID,
		params.Category,
		params.Flow,
		params.Description,
		params.OpenedBy,
		EvidenceWindow.String(),
	).Scan(&d.ID, &d.BookingID, &d.Category, &d.Flow, &d.Description, &d.OpenedBy, &d.Status,
		&d.EvidenceDueAt, &d.RebuttalDueAt, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return Dispute{}, fmt.Errorf("dispute: create: %w", err)
	}

	payload := map[string]any{
		"dispute_id": d.ID,
		"booking_id": d.BookingID,
		"category":   d.Category,
		"opened_by":  d.OpenedBy,
	}
	if err := r.appendTimeline(ctx, tx, d.ID, "DISPUTE_OPENED", payload); err != nil {
		return Dispute{}, err
	}
	if err := r.enqueueOutbox(ctx, tx, TopicDisputeOpened, payload); err != nil {
		return Dispute{}, err
	}
	return d, nil
}

// Get loads the dispute with its messages and evidence in chronological
// order. Idempotent; used both for initial load and post-mutation refresh.
func (r *Repository) Get(ctx context.Context, disputeID string) (Dispute, error) {
	const query = `
		SELECT id, booking_id, category, flow_kind, description, opened_by, status::text,
		       evidence_due_at, rebuttal_due_at, created_at, updated_at
		FROM disputes
		WHERE id = $1
	`

	var d Dispute
	err := r.pool.QueryRow(ctx, query, disputeID).
		Scan(&d.ID, &d.BookingID, &d.Category, &d.Flow, &d.Description, &d.OpenedBy, &d.Status,
			&d.EvidenceDueAt, &d.RebuttalDueAt, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Dispute{}, ErrNotFound
		}
		return Dispute{}, fmt.Errorf("dispute: get: %w", err)
	}

	if d.Messages, err = r.listMessages(ctx, disputeID); err != nil {
		return Dispute{}, err
	}
	if d.Evidence, err = r.listEvidence(ctx, disputeID); err != nil {
		return Dispute{}, err
	}
	return d, nil
}

func (r *Repository) listMessages(ctx context.Context, disputeID string) ([]Message, error) {
	const query = `
		SELECT id, role::text, actor_id::text, body, created_at
		FROM dispute_messages
		WHERE dispute_id = $1
		ORDER BY created_at, id
	`
	rows, err := r.pool.Query(ctx, query, disputeID)
	if err != nil {
		return nil, fmt.Errorf("dispute: list messages: %w", err)
	}
	defer rows.Close()

	out := make([]Message, 0, 8)
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.Role, &m.ActorID, &m.Text, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("dispute: scan message: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dispute: iterate messages: %w", err)
	}
	return out, nil
}

func (r *Repository) listEvidence(ctx context.Context, disputeID string) ([]Evidence, error) {
	const query = `
		SELECT id, kind::text, filename, content_type, size, width, height,
		       original_size, compressed_size, integrity_token, av_status::text, s3_key, url, created_at
		FROM dispute_evidence
		WHERE dispute_id = $1
		ORDER BY created_at, id
	`
	rows, err := r.pool.Query(ctx, query, disputeID)
	if err != nil {
		return nil, fmt.Errorf("dispute: list evidence: %w", err)
	}
	defer rows.Close()

	out := make([]Evidence, 0, 8)
	for rows.Next() {
		var e Evidence
		if err := rows.Scan(&e.ID, &e.Kind, &e.Filename, &e.ContentType, &e.Size, &e.Width, &e.Height,
			&e.OriginalSize, &e.CompressedSize, &e.IntegrityToken, &e.AVStatus, &e.S3Key, &e.URL, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("dispute: scan evidence: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dispute: iterate evidence: %w", err)
	}
	return out, nil
}

// InsertMessage appends to the thread. The write-lock is enforced in the
// SQL guard itself so a bypassed service check still cannot mutate a
// closed dispute.
func (r *Repository) InsertMessage(ctx context.Context, tx pgx.Tx, disputeID string, role Role, actorID *string, text string) (Message, error) {
	const query = `
		INSERT INTO dispute_messages (dispute_id, role, actor_id, body)
		SELECT d.id, $2::dispute_role, $3::uuid, $4
		FROM disputes d
		WHERE d.id = $1 AND d.status::text NOT IN ` + lockedSet + `
		RETURNING id, role::text, actor_id::text, body, created_at
	`

	var m Message
	err := tx.QueryRow(ctx, query, disputeID, role, actorID, text).
		Scan(&m.ID, &m.Role, &m.ActorID, &m.Text, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Message{}, r.explainBlockedWrite(ctx, tx, disputeID)
		}
		return Message{}, fmt.Errorf("dispute: insert message: %w", err)
	}

	if _, err := tx.Exec(ctx, `UPDATE disputes SET updated_at = now() WHERE id = $1`, disputeID); err != nil {
		return Message{}, fmt.Errorf("dispute: touch updated_at: %w", err)
	}

	payload := map[string]any{
		"dispute_id": disputeID,
		"message_id": m.ID,
		"role":       m.Role,
	}
	if err := r.enqueueOutbox(ctx, tx, TopicDisputeMessageCreated, payload); err != nil {
		return Message{}, err
	}
	return m, nil
}

// EvidenceParams registers one verified upload against the dispute.
type EvidenceParams struct {
	Kind           evidence.Kind
	Filename       string
	ContentType    string
	Size           int64
	Width          int
	Height         int
	OriginalSize   int64
	CompressedSize int64
	IntegrityToken string
	S3Key          string
	URL            string
}

// InsertEvidence registers evidence, treating the storage key as a natural
// idempotency key: a duplicate completion returns the existing record
// unchanged. First evidence moves an intake dispute into awaiting_rebuttal
// and starts the rebuttal countdown.
func (r *Repository) InsertEvidence(ctx context.Context, tx pgx.Tx, disputeID string, params EvidenceParams) (Evidence, bool, error) {
	const query = `
		INSERT INTO dispute_evidence
			(dispute_id, kind, filename, content_type, size, width, height,
			 original_size, compressed_size, integrity_token, s3_key, url)
		SELECT d.id, $2::evidence_kind, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12
		FROM disputes d
		WHERE d.id = $1 AND d.status::text NOT IN ` + lockedSet + `
		ON CONFLICT (dispute_id, s3_key) DO NOTHING
		RETURNING id, kind::text, filename, content_type, size, width, height,
		          original_size, compressed_size, integrity_token, av_status::text, s3_key, url, created_at
	`

	var e Evidence
	err := tx.QueryRow(ctx, query, disputeID,
		params.Kind, params.Filename, params.ContentType, params.Size,
		params.Width, params.Height, params.OriginalSize, params.CompressedSize,
		params.IntegrityToken, params.S3Key, params.URL,
	).Scan(&e.ID, &e.Kind, &e.Filename, &e.ContentType, &e.Size, &e.Width, &e.Height,
		&e.OriginalSize, &e.CompressedSize, &e.IntegrityToken, &e.AVStatus, &e.S3Key, &e.URL, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Either ON CONFLICT swallowed a repeat of an already-registered
			// key, or the dispute is missing or locked. A statement error
			// would poison the transaction, so the duplicate never raises one.
			existing, lookupErr := r.getEvidenceByKey(ctx, tx, disputeID, params.S3Key)
			if lookupErr == nil {
				return existing, false, nil
			}
			if !errors.Is(lookupErr, pgx.ErrNoRows) {
				return Evidence{}, false, lookupErr
			}
			return Evidence{}, false, r.explainBlockedWrite(ctx, tx, disputeID)
		}
		return Evidence{}, false, fmt.Errorf("dispute: insert evidence: %w", err)
	}

	const transition = `
		UPDATE disputes
		SET status = 'awaiting_rebuttal',
		    rebuttal_due_at = now() + $2::interval,
		    updated_at = now()
		WHERE id = $1 AND status = 'intake_missing_evidence'
	`
	if _, err := tx.Exec(ctx, transition, disputeID, RebuttalWindow.String()); err != nil {
		return Evidence{}, false, fmt.Errorf("dispute: advance intake: %w", err)
	}

	payload := map[string]any{
		"dispute_id":  disputeID,
		"evidence_id": e.ID,
		"kind":        e.Kind,
		"s3_key":      e.S3Key,
	}
	if err := r.appendTimeline(ctx, tx, disputeID, "EVIDENCE_REGISTERED", payload); err != nil {
		return Evidence{}, false, err
	}
	if err := r.enqueueOutbox(ctx, tx, TopicDisputeEvidenceSubmitted, payload); err != nil {
		return Evidence{}, false, err
	}
	return e, true, nil
}

func (r *Repository) getEvidenceByKey(ctx context.Context, tx pgx.Tx, disputeID, key string) (Evidence, error) {
	const query = `
		SELECT id, kind::text, filename, content_type, size, width, height,
		       original_size, compressed_size, integrity_token, av_status::text, s3_key, url, created_at
		FROM dispute_evidence
		WHERE dispute_id = $1 AND s3_key = $2
	`
	var e Evidence
	err := tx.QueryRow(ctx, query, disputeID, key).
		Scan(&e.ID, &e.Kind, &e.Filename, &e.ContentType, &e.Size, &e.Width, &e.Height,
			&e.OriginalSize, &e.CompressedSize, &e.IntegrityToken, &e.AVStatus, &e.S3Key, &e.URL, &e.CreatedAt)
	if err != nil {
		return Evidence{}, fmt.Errorf("dispute: fetch evidence by key: %w", err)
	}
	return e, nil
}

// CloseTx closes the dispute on behalf of its opener. Only the opener may
// close through this path, and only while the dispute is not already
// write-locked; staff resolution goes through the operator surface.
func (r *Repository) CloseTx(ctx context.Context, tx pgx.Tx, disputeID, actorID string) (Dispute, error) {
	const query = `
		UPDATE disputes
		SET status = 'closed_by_opener', updated_at = now()
		WHERE id = $1
		  AND opened_by = $2
		  AND status::text NOT IN ` + lockedSet + `
		RETURNING id, booking_id, category, flow_kind, description, opened_by, status::text,
		          evidence_due_at, rebuttal_due_at, created_at, updated_at
	`

	var d Dispute
	err := tx.QueryRow(ctx, query, disputeID, actorID).
		Scan(&d.ID, &d.BookingID, &d.Category, &d.Flow, &d.Description, &d.OpenedBy, &d.Status,
			&d.EvidenceDueAt, &d.RebuttalDueAt, &d.CreatedAt, &d.UpdatedAt)
	if err == nil {
		payload := map[string]any{
			"dispute_id": d.ID,
			"closed_by":  actorID,
		}
		if err := r.appendTimeline(ctx, tx, d.ID, "DISPUTE_CLOSED", payload); err != nil {
			return Dispute{}, err
		}
		if err := r.enqueueOutbox(ctx, tx, TopicDisputeClosed, payload); err != nil {
			return Dispute{}, err
		}
		return d, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Dispute{}, fmt.Errorf("dispute: close: %w", err)
	}

	var status Status
	var openedBy string
	const check = `SELECT status::text, opened_by FROM disputes WHERE id = $1`
	if err := tx.QueryRow(ctx, check, disputeID).Scan(&status, &openedBy); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Dispute{}, ErrNotFound
		}
		return Dispute{}, fmt.Errorf("dispute: close fetch: %w", err)
	}
	if WriteLocked(status) {
		return Dispute{}, ErrWriteLocked
	}
	if openedBy != actorID {
		return Dispute{}, ErrForbidden
	}
	return Dispute{}, ErrBadStatus
}

// ResolveTx force-resolves the dispute to an administrative outcome.
// Privileged path; the caller records the audit reason.
func (r *Repository) ResolveTx(ctx context.Context, tx pgx.Tx, disputeID string, outcome Status, actorID string) (Dispute, error) {
	switch outcome {
	case StatusResolvedRenter, StatusResolvedOwner, StatusResolvedPartial, StatusClosedAuto:
	default:
		return Dispute{}, ErrBadStatus
	}

	const query = `
		UPDATE disputes
		SET status = $2::dispute_status, updated_at = now()
		WHERE id = $1 AND status::text NOT IN ` + lockedSet + `
		RETURNING id, booking_id, category, flow_kind, description, opened_by, status::text,
		          evidence_due_at, rebuttal_due_at, created_at, updated_at
	`

	var d Dispute
	err := tx.QueryRow(ctx, query, disputeID, outcome).
		Scan(&d.ID, &d.BookingID, &d.Category, &d.Flow, &d.Description, &d.OpenedBy, &d.Status,
			&d.EvidenceDueAt, &d.RebuttalDueAt, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			var status Status
			if err := tx.QueryRow(ctx, `SELECT status::text FROM disputes WHERE id = $1`, disputeID).Scan(&status); err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					return Dispute{}, ErrNotFound
				}
				return Dispute{}, fmt.Errorf("dispute: resolve fetch: %w", err)
			}
			return Dispute{}, ErrBadStatus
		}
		return Dispute{}, fmt.Errorf("dispute: resolve: %w", err)
	}

	payload := map[string]any{
		"dispute_id":  d.ID,
		"outcome":     outcome,
		"resolved_by": actorID,
	}
	if err := r.appendTimeline(ctx, tx, d.ID, "DISPUTE_RESOLVED", payload); err != nil {
		return Dispute{}, err
	}
	if err := r.enqueueOutbox(ctx, tx, TopicDisputeResolved, payload); err != nil {
		return Dispute{}, err
	}
	return d, nil
}

func (r *Repository) explainBlockedWrite(ctx context.Context, tx pgx.Tx, disputeID string) error {
	var status Status
	if err := tx.QueryRow(ctx, `SELECT status::text FROM disputes WHERE id = $1`, disputeID).Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("dispute: status fetch: %w", err)
	}
	if WriteLocked(status) {
		return ErrWriteLocked
	}
	return ErrForbidden
}

func (r *Repository) appendTimeline(ctx context.Context, tx pgx.Tx, disputeID, eventType string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("dispute: marshal timeline payload: %w", err)
	}
	const query = `
		INSERT INTO timeline_events (dispute_id, type, payload)
		VALUES ($1, $2, $3::jsonb)
	`
	if _, err := tx.Exec(ctx, query, disputeID, eventType, body); err != nil {
		return fmt.Errorf("dispute: insert timeline event: %w", err)
	}
	return nil
}

func (r *Repository) enqueueOutbox(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("dispute: marshal outbox payload: %w", err)
	}
	const query = `
		INSERT INTO outbox (topic, payload)
		VALUES ($1, $2::jsonb)
	`
	if _, err := tx.Exec(ctx, query, topic, body); err != nil {
		return fmt.Errorf("dispute: insert outbox message: %w", err)
	}
	return nil
}
