package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

func All() []Oracle {
	return []Oracle{
		{
			// A terminal timeline event marks the write-lock point; nothing
			// may land in the thread after it. The grace interval absorbs
			// transaction-start timestamps of writes that raced the lock.
			Name: "O1_no_write_after_lock",
			SQL: `SELECT m.id::text FROM dispute_messages m
                  JOIN timeline_events t ON t.dispute_id = m.dispute_id
                  WHERE t.type IN ('DISPUTE_CLOSED','DISPUTE_RESOLVED')
                    AND m.created_at > t.created_at + interval '2 seconds'
                  UNION ALL
                  SELECT e.id::text FROM dispute_evidence e
                  JOIN timeline_events t ON t.dispute_id = e.dispute_id
                  WHERE t.type IN ('DISPUTE_CLOSED','DISPUTE_RESOLVED')
                    AND e.created_at > t.created_at + interval '2 seconds'`,
		},
		{
			Name: "O2_evidence_key_unique",
			SQL: `SELECT dispute_id::text, s3_key, COUNT(*) FROM dispute_evidence
                  GROUP BY dispute_id, s3_key HAVING COUNT(*) > 1`,
		},
		{
			// Evidence commits in the same transaction as the intake
			// transition, so a settled intake dispute with evidence is a bug.
			Name: "O3_intake_advances_with_evidence",
			SQL: `SELECT d.id::text FROM disputes d
                  WHERE d.status = 'intake_missing_evidence'
                    AND EXISTS (
                        SELECT 1 FROM dispute_evidence e
                        WHERE e.dispute_id = d.id
                          AND e.created_at < now() - interval '5 seconds')`,
		},
		{
			Name: "O4_locked_has_terminal_event",
			SQL: `SELECT d.id::text FROM disputes d
                  WHERE d.status::text IN ('resolved_renter','resolved_owner','resolved_partial','closed_by_opener','closed_auto')
                    AND d.updated_at < now() - interval '5 seconds'
                    AND NOT EXISTS (
                        SELECT 1 FROM timeline_events t
                        WHERE t.dispute_id = d.id
                          AND t.type IN ('DISPUTE_CLOSED','DISPUTE_RESOLVED'))`,
		},
		{
			Name: "O5_outbox_not_stale",
			SQL: `SELECT id::text, topic FROM outbox
                  WHERE published_at IS NULL
                    AND now() - created_at > interval '5 minutes'`,
		},
		{
			Name: "O6_actorless_messages_are_system",
			SQL:  `SELECT id::text FROM dispute_messages WHERE actor_id IS NULL AND role <> 'system'`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}
