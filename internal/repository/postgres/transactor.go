package postgres

import (
	"context"
	"errors"
	"time"

	domainauth "github.com/NordCoder/Studymate/internal/domain/auth"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var (
	mTxDur = promauto.NewHistogram(prometheus.HistogramOpts{
		Name: "postgres_tx_duration_seconds", Help: "Lifetime of a WithTx unit of work.",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	})
	mTxRollback = promauto.NewCounter(prometheus.CounterOpts{
		Name: "postgres_tx_rollbacks_total", Help: "Units of work that ended in rollback.",
	})
)

type Transactor interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

var (
	_ Transactor            = (*transactorImpl)(nil)
	_ domainauth.Transactor = (*transactorImpl)(nil)
)

type transactorImpl struct {
	db     *DB
	opts   pgx.TxOptions
	logger *zap.Logger
}

// NewTransactor runs units of work at READ COMMITTED. The refresh rotation
// relies on row-level DELETE ... RETURNING, not on a stricter isolation.
func NewTransactor(db *DB, logger *zap.Logger) *transactorImpl {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &transactorImpl{
		db:     db,
		opts:   pgx.TxOptions{IsoLevel: pgx.ReadCommitted},
		logger: logger,
	}
}

// WithTx runs fn inside a transaction carried by ctx. A nested call joins the
// outer transaction and leaves commit/rollback to it. fn's error is returned
// unwrapped so callers can still match sentinels.
func (t *transactorImpl) WithTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if _, ok := txFrom(ctx); ok {
		return fn(ctx)
	}

	bctx, cancel := t.db.withTimeout(ctx)
	tx, err := t.db.Pool.BeginTx(bctx, t.opts)
	cancel()
	if err != nil {
		return classify("begin tx", err)
	}

	start := time.Now()
	defer func() { mTxDur.Observe(time.Since(start).Seconds()) }()

	defer func() {
		if p := recover(); p != nil {
			t.rollback(ctx, tx)
			panic(p)
		}
	}()

	if err = fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		t.rollback(ctx, tx)
		return err
	}
	if cerr := tx.Commit(ctx); cerr != nil {
		t.logger.Error("commit", zap.Error(cerr))
		mTxRollback.Inc()
		return classify("commit", cerr)
	}
	return nil
}

func (t *transactorImpl) rollback(ctx context.Context, tx pgx.Tx) {
	mTxRollback.Inc()
	if err := tx.Rollback(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		t.logger.Error("rollback", zap.Error(err))
	}
}

type txKey struct{}

func txFrom(ctx context.Context) (pgx.Tx, bool) {
	tx, ok := ctx.Value(txKey{}).(pgx.Tx)
	return tx, ok && tx != nil
}

type execQueryer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// execQueryer routes a statement to the transaction in ctx, or the pool.
func (db *DB) execQueryer(ctx context.Context) execQueryer {
	if tx, ok := txFrom(ctx); ok {
		return tx
	}
	return db.Pool
}
