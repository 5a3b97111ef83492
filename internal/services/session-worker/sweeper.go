package sessionworker

import (
	"context"
	"fmt"
	"time"

	domainauth "github.com/NordCoder/Studymate/internal/domain/auth"
	"github.com/NordCoder/Studymate/internal/domain/outbox"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var (
	mSwept = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "session_sweeper_deleted_total", Help: "Rows removed by the sweeper",
	}, []string{"table"})
	mSweepErr = promauto.NewCounter(prometheus.CounterOpts{
		Name: "session_sweeper_errors_total", Help: "Failed sweeps",
	})
	mSweepDur = promauto.NewHistogram(prometheus.HistogramOpts{
		Name: "session_sweeper_duration_seconds", Help: "Sweep duration",
		Buckets: prometheus.DefBuckets,
	})
)

// Sweeper removes expired refresh records and finished outbox rows. Login
// also purges refresh records opportunistically; the sweeper keeps the table
// small when nobody signs in.
type Sweeper struct {
	Tokens domainauth.RefreshTokenRepo
	// Outbox is optional; nil skips the outbox purge.
	Outbox          outbox.Repository
	OutboxRetention time.Duration
	Now             func() time.Time
}

type SweepResult struct {
	Tokens int64
	Outbox int64
}

func (s *Sweeper) Sweep(ctx context.Context) (SweepResult, error) {
	ctx, span := otel.Tracer("session-worker.sweeper").Start(ctx, "sweeper.sweep")
	defer span.End()

	var res SweepResult
	var err error
	if res.Tokens, err = s.Tokens.DeleteExpired(ctx); err != nil {
		span.RecordError(err)
		return res, fmt.Errorf("delete expired refresh tokens: %w", err)
	}
	if s.Outbox != nil && s.OutboxRetention > 0 {
		now := time.Now
		if s.Now != nil {
			now = s.Now
		}
		if res.Outbox, err = s.Outbox.Purge(ctx, now().Add(-s.OutboxRetention)); err != nil {
			span.RecordError(err)
			return res, fmt.Errorf("purge outbox: %w", err)
		}
	}
	span.SetAttributes(
		attribute.Int64("sweep.refresh_tokens", res.Tokens),
		attribute.Int64("sweep.outbox", res.Outbox),
	)
	return res, nil
}

type SweepRunner struct {
	Log     *zap.Logger
	Sweeper *Sweeper
	Tick    time.Duration
}

func NewSweepRunner(log *zap.Logger, s *Sweeper, tick time.Duration) *SweepRunner {
	return &SweepRunner{Log: log, Sweeper: s, Tick: tick}
}

func (r *SweepRunner) tick(ctx context.Context) {
	start := time.Now()
	res, err := r.Sweeper.Sweep(ctx)
	if err != nil {
		mSweepErr.Inc()
		r.Log.Warn("sweep error", zap.Error(err))
	}
	mSwept.WithLabelValues("refresh_tokens").Add(float64(res.Tokens))
	mSwept.WithLabelValues("outbox").Add(float64(res.Outbox))
	if res.Tokens > 0 || res.Outbox > 0 {
		r.Log.Debug("sweep done", zap.Int64("refresh_tokens", res.Tokens), zap.Int64("outbox", res.Outbox))
	}
	mSweepDur.Observe(time.Since(start).Seconds())
}

func (r *SweepRunner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.Tick)
	defer ticker.Stop()

	r.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}
