package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	domainauth "github.com/NordCoder/Studymate/internal/domain/auth"
	"github.com/NordCoder/Studymate/internal/domain/outbox"
	"github.com/NordCoder/Studymate/internal/obs/retry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var (
	mHandleDur = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "outbox_handler_latency_seconds",
		Help:    "Time to deliver one outbox message, retries included.",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})
	mHandleErr = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_handler_errors_total",
		Help: "Outbox messages that could not be delivered.",
	}, []string{"kind", "permanent"})
)

// withRetry runs h under pol inside an outbox.deliver span.
func withRetry(kind string, h outbox.KindHandler, pol retry.Policy) outbox.KindHandler {
	tr := otel.Tracer("outbox.handler")
	return func(ctx context.Context, data []byte) error {
		ctx, span := tr.Start(ctx, "outbox.deliver")
		defer span.End()
		span.SetAttributes(attribute.String("outbox.kind", kind))

		start := time.Now()
		err := retry.Do(ctx, func() error { return h(ctx, data) }, pol)
		mHandleDur.WithLabelValues(kind).Observe(time.Since(start).Seconds())
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "delivery failed")
			mHandleErr.WithLabelValues(kind, fmt.Sprint(retry.IsPermanent(err))).Inc()
		}
		return err
	}
}

// MakeGlobalOutboxHandler routes session events to pub. A row that does not
// decode to an event with a user id fails permanently instead of being
// retried or forwarded.
func MakeGlobalOutboxHandler(pub domainauth.EventPublisher, pol retry.Policy) outbox.GlobalHandler {
	if pol.Name == "" {
		pol.Name = "outbox_session_event"
	}
	deliver := withRetry("session_event", func(ctx context.Context, data []byte) error {
		var ev domainauth.SessionEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return retry.Permanent(fmt.Errorf("unmarshal session event: %w", err))
		}
		if ev.UserID == "" {
			return retry.Permanent(fmt.Errorf("session event %q without user", ev.Kind))
		}
		return pub.PublishSessionEvent(ctx, ev.UserID, data)
	}, pol)

	return func(kind outbox.Kind) (outbox.KindHandler, error) {
		if kind != outbox.KindSessionEvent {
			return nil, fmt.Errorf("unsupported outbox kind: %d", kind)
		}
		return deliver, nil
	}
}
