// Package retrier runs an operation until it succeeds or a bounded number of
// attempts with exponentially growing, jittered pauses is used up.
package retrier

import (
	"context"
	"math/rand"
	"time"

	"github.com/pkg/errors"
)

const (
	defaultInitialInterval = 500 * time.Millisecond
	defaultMaxInterval     = 8 * time.Second
	defaultMultiplier      = 2.0
	defaultMaxRetries      = 4
	defaultJitter          = 0.1
)

// ErrExhausted wraps the last error once every attempt failed.
var ErrExhausted = errors.New("retries exhausted")

// Retrier holds a backoff policy. It is safe for concurrent use.
type Retrier struct {
	initialInterval time.Duration
	maxInterval     time.Duration
	multiplier      float64
	maxRetries      int
	jitter          float64
	retryIf         func(error) bool
	onRetry         func(attempt int, err error)
}

// Option configures a Retrier.
type Option func(*Retrier)

// WithInitialInterval sets the pause before the first retry.
func WithInitialInterval(d time.Duration) Option {
	return func(r *Retrier) {
		r.initialInterval = d
	}
}

// WithMaxInterval caps the pause between retries.
func WithMaxInterval(d time.Duration) Option {
	return func(r *Retrier) {
		r.maxInterval = d
	}
}

// WithMultiplier sets the backoff growth factor.
func WithMultiplier(m float64) Option {
	return func(r *Retrier) {
		r.multiplier = m
	}
}

// WithMaxRetries sets how many retries follow the first attempt.
func WithMaxRetries(n int) Option {
	return func(r *Retrier) {
		if n >= 0 {
			r.maxRetries = n
		}
	}
}

// WithJitter sets the jitter factor (0.0 to 1.0).
func WithJitter(j float64) Option {
	return func(r *Retrier) {
		r.jitter = j
	}
}

// WithRetryIf limits retries to errors accepted by fn. Other errors are
// returned as they are.
func WithRetryIf(fn func(error) bool) Option {
	return func(r *Retrier) {
		r.retryIf = fn
	}
}

// WithOnRetry registers a hook called before every retry with the attempt
// number that failed.
func WithOnRetry(fn func(attempt int, err error)) Option {
	return func(r *Retrier) {
		r.onRetry = fn
	}
}

// New creates a Retrier with default values and optional overrides.
func New(opts ...Option) *Retrier {
	r := &Retrier{
		initialInterval: defaultInitialInterval,
		maxInterval:     defaultMaxInterval,
		multiplier:      defaultMultiplier,
		maxRetries:      defaultMaxRetries,
		jitter:          defaultJitter,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Attempts is the total number of calls Do makes before giving up.
func (r *Retrier) Attempts() int {
	return r.maxRetries + 1
}

// Do calls fn until it returns nil, the context ends or the attempts run out.
// Exhaustion returns the last error wrapped with ErrExhausted.
func (r *Retrier) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	var err error
	interval := r.initialInterval

	for attempt := 1; attempt <= r.Attempts(); attempt++ {
		if attempt > 1 {
			if r.onRetry != nil {
				r.onRetry(attempt-1, err)
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.pause(interval)):
			}

			interval = time.Duration(float64(interval) * r.multiplier)
			if interval > r.maxInterval {
				interval = r.maxInterval
			}
		}

		err = fn(ctx)
		if err == nil {
			return nil
		}
		if r.retryIf != nil && !r.retryIf(err) {
			return err
		}
	}

	return &exhaustedError{attempts: r.Attempts(), last: err}
}

func (r *Retrier) pause(interval time.Duration) time.Duration {
	jitter := (rand.Float64()*2 - 1) * r.jitter * float64(interval)
	d := time.Duration(float64(interval) + jitter)
	if d < 0 {
		return 0
	}
	return d
}

// DoWithData is Do for operations that produce a value.
func DoWithData[T any](r *Retrier, ctx context.Context, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := r.Do(ctx, func(ctx context.Context) error {
		var e error
		result, e = fn(ctx)
		return e
	})
	return result, err
}

type exhaustedError struct {
	attempts int
	last     error
}

func (e *exhaustedError) Error() string {
	return errors.Wrapf(e.last, "%s after %d attempts", ErrExhausted, e.attempts).Error()
}

// Is makes errors.Is(err, ErrExhausted) hold.
func (e *exhaustedError) Is(target error) bool {
	return target == ErrExhausted
}

func (e *exhaustedError) Unwrap() error {
	return e.last
}
