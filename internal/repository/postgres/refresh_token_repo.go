package postgres

import (
	"context"

	"github.com/NordCoder/Studymate/internal/domain/auth"
)

var _ auth.RefreshTokenRepo = (*RefreshTokenRepo)(nil)

type RefreshTokenRepo struct{ db *DB }

func NewRefreshTokenRepo(db *DB) *RefreshTokenRepo { return &RefreshTokenRepo{db: db} }

// JoinsTx reports that writes run inside the Transactor's transaction.
func (r *RefreshTokenRepo) JoinsTx() bool { return true }

const (
	qRTPut = `
INSERT INTO refresh_tokens(user_id, token_hash, issued_at, expires_at)
VALUES ($1, $2, $3, $4)
RETURNING id;
`
	qRTFindValid = `
SELECT id, user_id::text, token_hash, issued_at, expires_at
FROM refresh_tokens
WHERE token_hash = $1 AND expires_at > NOW()
LIMIT 1;
`
	// Concurrent consumers of the same row serialize on the row lock; the
	// loser re-evaluates against a deleted row and gets no rows back.
	qRTConsume = `
DELETE FROM refresh_tokens
WHERE token_hash = $1 AND expires_at > NOW()
RETURNING id, user_id::text, token_hash, issued_at, expires_at;
`
	qRTDeleteExpired = `
DELETE FROM refresh_tokens WHERE expires_at <= NOW();
`
	qRTDeleteForUser = `
DELETE FROM refresh_tokens WHERE user_id = $1;
`
)

func (r *RefreshTokenRepo) Put(ctx context.Context, t *auth.RefreshToken) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	err := r.db.execQueryer(ctx).
		QueryRow(ctx, qRTPut, t.UserID, t.TokenHash, t.IssuedAt, t.ExpiresAt).
		Scan(&t.ID)
	return classify("put refresh", err)
}

func (r *RefreshTokenRepo) FindValid(ctx context.Context, tokenHash string) (*auth.RefreshToken, error) {
	return r.scanOne(ctx, "find valid refresh", qRTFindValid, tokenHash)
}

func (r *RefreshTokenRepo) Consume(ctx context.Context, tokenHash string) (*auth.RefreshToken, error) {
	return r.scanOne(ctx, "consume refresh", qRTConsume, tokenHash)
}

func (r *RefreshTokenRepo) DeleteExpired(ctx context.Context) (int64, error) {
	return r.exec(ctx, "delete expired refresh", qRTDeleteExpired)
}

func (r *RefreshTokenRepo) DeleteAllForUser(ctx context.Context, userID string) (int64, error) {
	return r.exec(ctx, "delete user refresh", qRTDeleteForUser, userID)
}

func (r *RefreshTokenRepo) scanOne(ctx context.Context, op, q string, tokenHash string) (*auth.RefreshToken, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var t auth.RefreshToken
	if err := r.db.execQueryer(ctx).QueryRow(ctx, q, tokenHash).
		Scan(&t.ID, &t.UserID, &t.TokenHash, &t.IssuedAt, &t.ExpiresAt); err != nil {
		return nil, classify(op, err)
	}
	return &t, nil
}

func (r *RefreshTokenRepo) exec(ctx context.Context, op, q string, args ...any) (int64, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	tag, err := r.db.execQueryer(ctx).Exec(ctx, q, args...)
	if err != nil {
		return 0, classify(op, err)
	}
	return tag.RowsAffected(), nil
}
