package auth

import "context"

// RefreshTokenRepo is the session store. Connectivity and timeout failures
// must surface as domain.ErrUnavailable, misses as domain.ErrNotFound.
type RefreshTokenRepo interface {
	Put(ctx context.Context, t *RefreshToken) error
	// FindValid returns the record only while expires_at is strictly in the future.
	FindValid(ctx context.Context, tokenHash string) (*RefreshToken, error)
	// Consume atomically deletes and returns a still-valid record.
	Consume(ctx context.Context, tokenHash string) (*RefreshToken, error)
	DeleteExpired(ctx context.Context) (int64, error)
	DeleteAllForUser(ctx context.Context, userID string) (int64, error)
}

// TxBound is implemented by token stores whose writes commit and roll back
// with the Transactor.
type TxBound interface {
	JoinsTx() bool
}

// EventSink records session lifecycle events. Implementations that write to
// the database join the caller's transaction.
type EventSink interface {
	Record(ctx context.Context, ev SessionEvent) error
}

// Transactor runs fn in one unit of work.
type Transactor interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// EventPublisher delivers an encoded SessionEvent to subscribers. key is the
// user id, so one user's events stay ordered.
type EventPublisher interface {
	PublishSessionEvent(ctx context.Context, key string, payload []byte) error
}
