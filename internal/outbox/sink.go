package outbox

import (
	"context"
	"encoding/json"
	"fmt"

	domainauth "github.com/NordCoder/Studymate/internal/domain/auth"
	"github.com/NordCoder/Studymate/internal/domain/outbox"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
)

var _ domainauth.EventSink = (*EventSink)(nil)

// EventSink stores session events in the outbox. When ctx carries a
// transaction the row is written inside it.
type EventSink struct {
	repo outbox.Repository
}

func NewEventSink(repo outbox.Repository) *EventSink { return &EventSink{repo: repo} }

func (s *EventSink) Record(ctx context.Context, ev domainauth.SessionEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal session event: %w", err)
	}

	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)

	return s.repo.Enqueue(ctx, outbox.Message{
		IdempotencyKey: ulid.Make().String(),
		Kind:           outbox.KindSessionEvent,
		Data:           data,
		Status:         outbox.StatusCreated,
		Traceparent:    carrier.Get("traceparent"),
		Tracestate:     carrier.Get("tracestate"),
		Baggage:        carrier.Get("baggage"),
	})
}

// LogSink is used when no outbox table is available (memory store).
type LogSink struct {
	Log *zap.Logger
}

func (s LogSink) Record(_ context.Context, ev domainauth.SessionEvent) error {
	if s.Log != nil {
		s.Log.Debug("session event", zap.String("kind", string(ev.Kind)), zap.String("user_id", ev.UserID))
	}
	return nil
}
