package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/NordCoder/Studymate/internal/domain/outbox"
	"github.com/jackc/pgx/v5"
)

var _ outbox.Repository = (*OutboxRepo)(nil)

type OutboxRepo struct{ db *DB }

func NewOutboxRepo(db *DB) *OutboxRepo { return &OutboxRepo{db: db} }

const (
	qOutboxEnqueue = `
INSERT INTO outbox (idempotency_key, kind, data, traceparent, tracestate, baggage)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (idempotency_key) DO NOTHING;`

	// Claiming and returning happen in one statement; SKIP LOCKED lets
	// several relay workers share the table.
	qOutboxClaim = `
UPDATE outbox o
SET status = 'IN_PROGRESS', updated_at = now()
FROM (
    SELECT idempotency_key
    FROM outbox
    WHERE status = 'CREATED'
       OR (status = 'IN_PROGRESS' AND updated_at < now() - make_interval(secs => $2))
    ORDER BY created_at
    LIMIT $1
    FOR UPDATE SKIP LOCKED
) c
WHERE o.idempotency_key = c.idempotency_key
RETURNING o.idempotency_key, o.kind, o.data, o.status, o.created_at, o.updated_at,
          o.traceparent, o.tracestate, o.baggage;`

	qOutboxFinish = `
UPDATE outbox
SET status = $2, updated_at = now()
WHERE idempotency_key = ANY($1) AND status = 'IN_PROGRESS';`

	qOutboxPurge = `
DELETE FROM outbox
WHERE status IN ('SUCCESS', 'FAILED') AND updated_at < $1;`
)

func (r *OutboxRepo) Enqueue(ctx context.Context, m outbox.Message) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	_, err := r.db.execQueryer(ctx).Exec(ctx, qOutboxEnqueue,
		m.IdempotencyKey, int(m.Kind), m.Data, m.Traceparent, m.Tracestate, m.Baggage)
	return classify("outbox enqueue", err)
}

func (r *OutboxRepo) PickBatch(ctx context.Context, batch int, inProgressTTL time.Duration) ([]outbox.Message, error) {
	if batch <= 0 {
		return nil, errors.New("outbox pick: batch must be positive")
	}
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.Pool.Query(ctx, qOutboxClaim, batch, inProgressTTL.Seconds())
	if err != nil {
		return nil, classify("outbox pick", err)
	}
	msgs, err := pgx.CollectRows(rows, scanOutbox)
	if err != nil {
		return nil, classify("outbox pick", err)
	}
	return msgs, nil
}

func scanOutbox(row pgx.CollectableRow) (outbox.Message, error) {
	var (
		m      outbox.Message
		kind   int
		status string
	)
	err := row.Scan(&m.IdempotencyKey, &kind, &m.Data, &status, &m.CreatedAt, &m.UpdatedAt,
		&m.Traceparent, &m.Tracestate, &m.Baggage)
	if err != nil {
		return m, fmt.Errorf("outbox scan: %w", err)
	}
	m.Kind, m.Status = outbox.Kind(kind), outbox.Status(status)
	return m, nil
}

func (r *OutboxRepo) MarkSuccess(ctx context.Context, keys []string) error {
	return r.finish(ctx, keys, outbox.StatusSuccess)
}

func (r *OutboxRepo) MarkFailed(ctx context.Context, keys []string) error {
	return r.finish(ctx, keys, outbox.StatusFailed)
}

func (r *OutboxRepo) finish(ctx context.Context, keys []string, st outbox.Status) error {
	if len(keys) == 0 {
		return nil
	}
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()
	_, err := r.db.Pool.Exec(ctx, qOutboxFinish, keys, string(st))
	return classify("outbox mark "+string(st), err)
}

func (r *OutboxRepo) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()
	tag, err := r.db.Pool.Exec(ctx, qOutboxPurge, cutoff)
	if err != nil {
		return 0, classify("outbox purge", err)
	}
	return tag.RowsAffected(), nil
}
