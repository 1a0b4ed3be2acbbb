// Package retry is the one place where calls to rate-limited collaborators
// are repeated. Only throttled outcomes are retried, after waiting for the
// collaborator's retry-after hint.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"vigilant-go/internal/apperr"
	"vigilant-go/internal/metrics"
)

const (
	DefaultMaxAttempts  = 3
	DefaultFallbackWait = 10 * time.Second
)

// Throttled marks a failure the collaborator asked us to retry later. Hint
// is the raw retry-after value as received; it may be empty or garbage.
type Throttled struct {
	Hint string
	Err  error
}

func (t *Throttled) Error() string {
	msg := "throttled"
	if t.Hint != "" {
		msg += " (retry after " + t.Hint + ")"
	}
	if t.Err != nil {
		msg += ": " + t.Err.Error()
	}
	return msg
}

func (t *Throttled) Unwrap() error { return t.Err }

// Caller wraps an operation with the bounded throttle-retry policy.
type Caller struct {
	Name         string
	MaxAttempts  int
	FallbackWait time.Duration
	// Timer drives the waits; nil uses a real timer.
	Timer backoff.Timer
	Now   func() time.Time
	Log   *logrus.Entry
}

func New(name string, maxAttempts int, fallback time.Duration, log *logrus.Entry) *Caller {
	return &Caller{Name: name, MaxAttempts: maxAttempts, FallbackWait: fallback, Log: log}
}

func (c *Caller) maxAttempts() int {
	if c == nil || c.MaxAttempts <= 0 {
		return DefaultMaxAttempts
	}
	return c.MaxAttempts
}

func (c *Caller) fallback() time.Duration {
	if c == nil || c.FallbackWait <= 0 {
		return DefaultFallbackWait
	}
	return c.FallbackWait
}

func (c *Caller) now() time.Time {
	if c != nil && c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func (c *Caller) log() *logrus.Entry {
	if c != nil && c.Log != nil {
		return c.Log
	}
	return logrus.NewEntry(logrus.StandardLogger())
}

// Wait is how long the caller sleeps for a given hint.
func (c *Caller) Wait(hint string) time.Duration {
	if d, ok := ParseHint(hint, c.now()); ok {
		return d
	}
	return c.fallback()
}

// hintBackOff hands out the wait of the last throttled failure and stops
// once the attempt budget is spent.
type hintBackOff struct {
	max       int
	throttled int
	next      time.Duration
}

func (b *hintBackOff) Reset() {
	b.throttled = 0
	b.next = 0
}

func (b *hintBackOff) NextBackOff() time.Duration {
	if b.throttled >= b.max {
		return backoff.Stop
	}
	return b.next
}

// Do invokes op at most MaxAttempts times. Non-throttled failures are
// returned as-is on first sight; exhausting the budget on throttled failures
// yields QuotaExhausted; cancellation while waiting yields Canceled.
func Do[T any](ctx context.Context, c *Caller, op func(context.Context) (T, error)) (T, error) {
	hb := &hintBackOff{max: c.maxAttempts()}
	b := backoff.WithContext(hb, ctx)
	attempts := 0

	wrapped := func() (T, error) {
		attempts++
		res, err := op(ctx)
		if err == nil {
			return res, nil
		}
		var th *Throttled
		if errors.As(err, &th) {
			hb.throttled++
			hb.next = c.Wait(th.Hint)
			return res, err
		}
		return res, backoff.Permanent(err)
	}
	notify := func(err error, wait time.Duration) {
		metrics.ObserveRetry(c.Name)
		c.log().WithFields(logrus.Fields{
			"call":    c.Name,
			"attempt": attempts,
			"wait_ms": wait.Milliseconds(),
		}).WithError(err).Warn("throttled, waiting before retry")
	}

	res, err := backoff.RetryNotifyWithTimerAndData(wrapped, b, notify, c.Timer)
	if err == nil {
		return res, nil
	}
	if cerr := apperr.FromContext(ctx, c.Name); cerr != nil {
		var zero T
		return zero, cerr
	}
	var th *Throttled
	if errors.As(err, &th) {
		metrics.ObserveQuotaExhausted(c.Name)
		var zero T
		return zero, apperr.Wrap(apperr.KindQuotaExhausted, c.Name,
			fmt.Errorf("gave up after %d throttled attempts: %w", attempts, err))
	}
	return res, err
}
