package sessionworker

import (
	"context"
	"errors"

	domainauth "github.com/NordCoder/Studymate/internal/domain/auth"
	kafkax "github.com/NordCoder/Studymate/internal/repository/kafka"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var mAudited = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "session_events_consumed_total", Help: "Session events read from Kafka by kind",
}, []string{"kind"})

type EventConsumer interface {
	Consume(ctx context.Context, h kafkax.Handler) error
}

// AuditRunner writes every published session event to the audit log.
type AuditRunner struct {
	log  *zap.Logger
	cons EventConsumer
}

func NewAuditRunner(log *zap.Logger, cons EventConsumer) *AuditRunner {
	return &AuditRunner{log: log.With(zap.String("component", "session.audit")), cons: cons}
}

func (r *AuditRunner) Run(ctx context.Context) error {
	if err := r.cons.Consume(ctx, kafkax.JSONHandler(r.handle)); err != nil && !errors.Is(err, context.Canceled) {
		r.log.Warn("kafka consume", zap.Error(err))
		return err
	}
	return ctx.Err()
}

func (r *AuditRunner) handle(_ context.Context, _ []byte, ev domainauth.SessionEvent) error {
	switch ev.Kind {
	case domainauth.EventLogin, domainauth.EventRefresh, domainauth.EventLogout:
	default:
		r.log.Warn("unknown session event kind", zap.String("kind", string(ev.Kind)))
		mAudited.WithLabelValues("unknown").Inc()
		return nil
	}
	mAudited.WithLabelValues(string(ev.Kind)).Inc()
	r.log.Info("session event",
		zap.String("kind", string(ev.Kind)),
		zap.String("user_id", ev.UserID),
		zap.Time("at", ev.At),
	)
	return nil
}
