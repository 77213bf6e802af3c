package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shank50/metriq/prometheus"
	"go.uber.org/zap"
)

// Tag identifies a transient failure condition. The set is closed: storage
// and transport layers attach a tag where the failure is caught, and the
// retrier never inspects error text.
type Tag string

const (
	TagConnReset         Tag = "connection_reset"
	TagConnClosed        Tag = "connection_closed"
	TagConnTerminated    Tag = "connection_terminated"
	TagTimeout           Tag = "timeout"
	TagServerUnreachable Tag = "server_unreachable"
	TagOperationTimeout  Tag = "operation_timed_out"
)

// TransientError marks an error as retry-eligible.
type TransientError struct {
	Tag Tag
	Err error
}

func (e *TransientError) Error() string {
	return string(e.Tag) + ": " + e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// Transient wraps err with a transient condition tag.
func Transient(tag Tag, err error) error {
	return &TransientError{Tag: tag, Err: err}
}

// IsTransient reports whether err carries a transient tag.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// Retrier re-executes idempotent operations that fail with a transient
// condition, doubling the wait between attempts. It is the only retry
// mechanism in the pipeline; everything else fails fast.
type Retrier struct {
	MaxAttempts    int
	InitialBackoff time.Duration

	log *zap.Logger
}

// NewRetrier creates a retrier with the given budget and starting backoff.
func NewRetrier(maxAttempts int, initialBackoff time.Duration, log *zap.Logger) *Retrier {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Retrier{
		MaxAttempts:    maxAttempts,
		InitialBackoff: initialBackoff,
		log:            log,
	}
}

// Do executes op, retrying transient failures until the budget runs out.
// Non-transient errors are returned immediately without waiting; retrying a
// constraint violation or malformed record would not resolve it.
func (r *Retrier) Do(ctx context.Context, op func() error) error {
	backoff := r.InitialBackoff
	var lastErr error

	for attempt := 1; attempt <= r.MaxAttempts; attempt++ {
		err := op()
		if err == nil {
			if attempt > 1 {
				r.log.Info("operation succeeded after retry", zap.Int("attempt", attempt))
			}
			return nil
		}
		lastErr = err

		var te *TransientError
		if !errors.As(err, &te) {
			return err
		}
		if attempt >= r.MaxAttempts {
			break
		}

		prometheus.RecordRetryAttempt(string(te.Tag))
		r.log.Warn("transient failure, backing off",
			zap.String("tag", string(te.Tag)),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(te.Err))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	prometheus.RecordRetryExhausted()
	return fmt.Errorf("retry budget exhausted after %d attempts: %w", r.MaxAttempts, lastErr)
}
