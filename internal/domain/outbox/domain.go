// Package outbox describes messages written in the same transaction as the
// state change they announce and relayed to the broker afterwards.
package outbox

import (
	"context"
	"time"
)

type Status string

const (
	StatusCreated    Status = "CREATED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusSuccess    Status = "SUCCESS"
	// StatusFailed rows will never be delivered: unknown kind or a payload
	// the handler rejected as permanently invalid.
	StatusFailed Status = "FAILED"
)

type Kind int

const KindSessionEvent Kind = 1

// Message carries the W3C trace context of the transaction that wrote it so
// delivery continues the same trace.
type Message struct {
	IdempotencyKey string
	Kind           Kind
	Data           []byte
	Status         Status
	CreatedAt      time.Time
	UpdatedAt      time.Time
	Traceparent    string
	Tracestate     string
	Baggage        string
}

type Repository interface {
	// Enqueue joins the caller's transaction when ctx carries one.
	Enqueue(ctx context.Context, m Message) error
	// PickBatch claims up to batch CREATED rows, plus IN_PROGRESS rows whose
	// claim is older than inProgressTTL.
	PickBatch(ctx context.Context, batch int, inProgressTTL time.Duration) ([]Message, error)
	MarkSuccess(ctx context.Context, keys []string) error
	MarkFailed(ctx context.Context, keys []string) error
	// Purge deletes finished rows (SUCCESS or FAILED) last touched before cutoff.
	Purge(ctx context.Context, cutoff time.Time) (int64, error)
}

type KindHandler func(ctx context.Context, data []byte) error

type GlobalHandler func(kind Kind) (KindHandler, error)
