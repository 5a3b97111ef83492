package retry

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// PublishPolicy retries broker writes for roughly a minute. Cancellation and
// permanent errors stop it at once.
func PublishPolicy(name string, log *zap.Logger) Policy {
	if log == nil {
		log = zap.NewNop()
	}
	return Policy{
		Name:     name,
		Attempts: 6,
		Backoff:  ExpoJitter{Base: 200 * time.Millisecond, Max: 30 * time.Second, Jitter: 0.2},
		Retryable: func(err error) bool {
			return !IsPermanent(err) && !errors.Is(err, context.Canceled)
		},
		OnAttempt: func(i int, err error) {
			log.Warn("publish attempt failed", zap.String("policy", name), zap.Int("attempt", i+1), zap.Error(err))
		},
		OnExhaust: func(err error) {
			if !errors.Is(err, context.Canceled) {
				log.Error("publish gave up", zap.String("policy", name), zap.Error(err))
			}
		},
	}
}

// HandlePolicy retries a consumer handler briefly before the message is
// skipped.
func HandlePolicy(name string, log *zap.Logger) Policy {
	if log == nil {
		log = zap.NewNop()
	}
	return Policy{
		Name:     name,
		Attempts: 3,
		Backoff:  ExpoJitter{Base: 100 * time.Millisecond, Max: 2 * time.Second, Jitter: 0.2},
		Retryable: func(err error) bool {
			return !IsPermanent(err) && !errors.Is(err, context.Canceled)
		},
		OnAttempt: func(i int, err error) {
			log.Warn("handle attempt failed", zap.String("policy", name), zap.Int("attempt", i+1), zap.Error(err))
		},
	}
}
