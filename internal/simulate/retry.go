package simulate

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

// withRetry runs fn until it succeeds, fails permanently, maxRetries is exhausted or
// ctx ends. The delay doubles after each failure.
func withRetry(ctx context.Context, maxRetries int, baseDelay time.Duration, logger *zap.Logger, op string, fn func(context.Context) error) error {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}

	delay := baseDelay
	for attempt := 0; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !retryable(err) {
			logger.Warn("permanent failure", zap.String("op", op), zap.Int("attempt", attempt+1), zap.Error(err))
			return err
		}
		if attempt >= maxRetries {
			return err
		}
		logger.Warn("retrying", zap.String("op", op), zap.Int("attempt", attempt+1), zap.Duration("delay", delay), zap.Error(err))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay *= 2
	}
}

// retryable reports whether a persistence failure may clear on its own. Postgres
// errors are retried only for the connection, transaction rollback, resource and
// operator intervention classes; constraint or syntax errors would fail again.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if len(pgErr.Code) < 2 {
			return false
		}
		switch pgErr.Code[:2] {
		case "08", "40", "53", "57":
			return true
		}
		return false
	}
	return true
}
