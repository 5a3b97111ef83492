package auth

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	mOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_operations_total",
		Help: "Session manager operations by outcome.",
	}, []string{"op", "result"})
	mOpDur = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "auth_operation_duration_seconds",
		Help:    "Session manager operation latency.",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	}, []string{"op"})
	mPurged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "auth_refresh_tokens_purged_total",
		Help: "Expired refresh records removed opportunistically on login.",
	})
	mRestored = promauto.NewCounter(prometheus.CounterOpts{
		Name: "auth_refresh_tokens_restored_total",
		Help: "Consumed refresh records put back after a failed refresh.",
	})
)

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, ErrTokenExpired):
		return "token_expired"
	case errors.Is(err, ErrTokenInvalid):
		return "token_invalid"
	case errors.Is(err, ErrStoreUnavailable):
		return "store_unavailable"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrEmailExists):
		return "email_exists"
	case errors.Is(err, ErrWeakPassword), errors.Is(err, ErrInvalidEmail):
		return "bad_input"
	}
	return "internal"
}
