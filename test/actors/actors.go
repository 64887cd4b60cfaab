package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const lockedSet = `('resolved_renter','resolved_owner','resolved_partial','closed_by_opener','closed_auto')`

// Messenger appends thread messages through the same guarded insert the
// service uses; zero rows under a closed dispute is the expected outcome.
func Messenger(ctx context.Context, pool *pgxpool.Pool, disputeID, actorID, role string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		_, err := pool.Exec(ctx, `
			INSERT INTO dispute_messages (dispute_id, role, actor_id, body)
			SELECT d.id, $2::dispute_role, $3::uuid, $4
			FROM disputes d
			WHERE d.id = $1 AND d.status::text NOT IN `+lockedSet,
			disputeID, role, actorID, fmt.Sprintf("stress message %d", rand.Int63()))
		if err != nil {
			return fmt.Errorf("messenger insert: %w", err)
		}
		time.Sleep(time.Duration(10+rand.Intn(20)) * time.Millisecond)
	}
}

// EvidenceSubmitter races registrations over a small pool of storage keys so
// duplicate keys hit the unique constraint, then advances intake the way the
// production write does, inside one transaction.
func EvidenceSubmitter(ctx context.Context, pool *pgxpool.Pool, disputeID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		key := fmt.Sprintf("disputes/%s/stress_%d.jpg", disputeID, rand.Intn(5))
		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}
		var evidenceID string
		err = tx.QueryRow(ctx, `
			INSERT INTO dispute_evidence (dispute_id, kind, filename, content_type, size, integrity_token, s3_key)
			SELECT d.id, 'photo', 'stress.jpg', 'image/jpeg', 1024, 'etag-stress', $2
			FROM disputes d
			WHERE d.id = $1 AND d.status::text NOT IN `+lockedSet+`
			RETURNING id`, disputeID, key).Scan(&evidenceID)
		if err == nil {
			_, _ = tx.Exec(ctx, `
				UPDATE disputes
				SET status = 'awaiting_rebuttal', rebuttal_due_at = now() + interval '72 hours', updated_at = now()
				WHERE id = $1 AND status = 'intake_missing_evidence'`, disputeID)
			_, _ = tx.Exec(ctx, `
				INSERT INTO timeline_events (dispute_id, type, payload)
				VALUES ($1, 'EVIDENCE_REGISTERED', jsonb_build_object('evidence_id', $2::text))`, disputeID, evidenceID)
			_, _ = tx.Exec(ctx, `
				INSERT INTO outbox (topic, payload)
				VALUES ('dispute.evidence_submitted', jsonb_build_object('dispute_id', $1::text))`, disputeID)
			_ = tx.Commit(ctx)
		} else {
			_ = tx.Rollback(ctx)
			var pgErr *pgconn.PgError
			switch {
			case errors.As(err, &pgErr) && pgErr.Code == "23505":
				// expected under key contention
			case errors.Is(err, pgx.ErrNoRows):
				// dispute already write-locked
			default:
				return fmt.Errorf("evidence insert: %w", err)
			}
		}
		time.Sleep(time.Duration(20+rand.Intn(40)) * time.Millisecond)
	}
}

// Closer plays the opener repeatedly trying to close; only the first
// attempt should flip the status, the rest must find it already locked.
func Closer(ctx context.Context, pool *pgxpool.Pool, disputeID, openerID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `
			UPDATE disputes
			SET status = 'closed_by_opener', updated_at = now()
			WHERE id = $1 AND opened_by = $2 AND status::text NOT IN `+lockedSet,
			disputeID, openerID)
		if err == nil && tag.RowsAffected() == 1 {
			_, _ = tx.Exec(ctx, `
				INSERT INTO timeline_events (dispute_id, type, payload)
				VALUES ($1, 'DISPUTE_CLOSED', '{}'::jsonb)`, disputeID)
			_, _ = tx.Exec(ctx, `
				INSERT INTO outbox (topic, payload)
				VALUES ('dispute.closed', jsonb_build_object('dispute_id', $1::text))`, disputeID)
			_ = tx.Commit(ctx)
		} else {
			_ = tx.Rollback(ctx)
			if err != nil {
				return fmt.Errorf("closer update: %w", err)
			}
		}
		time.Sleep(time.Duration(150+rand.Intn(200)) * time.Millisecond)
	}
}

// OutboxWorker drains unpublished notifications with SKIP LOCKED, with a
// simulated flaky delivery leaving the row for the next pass.
func OutboxWorker(ctx context.Context, pool *pgxpool.Pool, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}
		rows, err := tx.Query(ctx, `
			SELECT id FROM outbox
			WHERE published_at IS NULL
			ORDER BY created_at
			FOR UPDATE SKIP LOCKED
			LIMIT 10`)
		if err != nil {
			_ = tx.Rollback(ctx)
			time.Sleep(50 * time.Millisecond)
			continue
		}
		ids := make([]int64, 0, 10)
		for rows.Next() {
			var id int64
			_ = rows.Scan(&id)
			ids = append(ids, id)
		}
		rows.Close()
		for _, id := range ids {
			if rand.Intn(10) == 0 {
				continue // flaky delivery, retry next pass
			}
			_, _ = tx.Exec(ctx, `UPDATE outbox SET published_at = now() WHERE id = $1`, id)
		}
		_ = tx.Commit(ctx)
		time.Sleep(100 * time.Millisecond)
	}
}

// Resolver plays support staff occasionally forcing a resolution, which
// must also write-lock the dispute against everyone else.
func Resolver(ctx context.Context, pool *pgxpool.Pool, disputeID string, stop <-chan struct{}) error {
	outcomes := []string{"resolved_renter", "resolved_owner", "resolved_partial"}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		if rand.Intn(4) == 0 {
			outcome := outcomes[rand.Intn(len(outcomes))]
			tx, err := pool.Begin(ctx)
			if err != nil {
				return err
			}
			tag, err := tx.Exec(ctx, `
				UPDATE disputes
				SET status = $2::dispute_status, updated_at = now()
				WHERE id = $1 AND status::text NOT IN `+lockedSet,
				disputeID, outcome)
			if err == nil && tag.RowsAffected() == 1 {
				_, _ = tx.Exec(ctx, `
					INSERT INTO timeline_events (dispute_id, type, payload)
					VALUES ($1, 'DISPUTE_RESOLVED', jsonb_build_object('outcome', $2::text))`, disputeID, outcome)
				_, _ = tx.Exec(ctx, `
					INSERT INTO outbox (topic, payload)
					VALUES ('dispute.resolved', jsonb_build_object('dispute_id', $1::text))`, disputeID)
				_ = tx.Commit(ctx)
			} else {
				_ = tx.Rollback(ctx)
				if err != nil {
					return fmt.Errorf("resolver update: %w", err)
				}
			}
		}
		time.Sleep(time.Duration(300+rand.Intn(300)) * time.Millisecond)
	}
}
