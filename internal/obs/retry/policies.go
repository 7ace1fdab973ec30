package retry

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// CheckPolicy retries only errors accepted by retryable, waiting base*2^attempt
// between attempts with no jitter and no cap.
func CheckPolicy(attempts int, base time.Duration, retryable func(error) bool, log *zap.Logger) Policy {
	return Policy{
		Name:      "check",
		Attempts:  attempts,
		Backoff:   ExpoJitter{Base: base},
		Retryable: retryable,
		OnAttempt: func(i int, err error) {
			if log != nil {
				log.Debug("check attempt failed", zap.Int("attempt", i+1), zap.Error(err))
			}
		},
	}
}

func DefaultAlertPolicy(channel string, attempts int, log *zap.Logger) Policy {
	return Policy{
		Name:     "alert." + channel,
		Attempts: attempts,
		Backoff:  ExpoJitter{Base: 500 * time.Millisecond, Max: 5 * time.Second, Jitter: 0.2},
		Retryable: func(err error) bool {
			return err != nil && !errors.Is(err, context.Canceled)
		},
		OnAttempt: func(i int, err error) {
			if log != nil {
				log.Warn("alert send retry", zap.String("channel", channel), zap.Int("attempt", i+1), zap.Error(err))
			}
		},
		OnExhaust: func(err error) {
			if log != nil && !errors.Is(err, context.Canceled) {
				log.Error("alert send retries exhausted", zap.String("channel", channel), zap.Error(err))
			}
		},
	}
}
