// Package retry runs calls to external services with bounded exponential
// backoff. A Policy is built once from config and shared by the embedding
// and news clients.
package retry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// ErrExhausted is returned (wrapping the last failure) when every attempt
// failed with a retryable error.
var ErrExhausted = errors.New("retry: attempts exhausted")

// Policy controls how many times a call is attempted and how long to wait
// between attempts.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      float64 // fraction of the delay, 0..1
}

// Default matches the [retry] config defaults.
func Default() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
		Jitter:      0.2,
	}
}

// NoDelay returns p with waits removed. Used by tests.
func (p Policy) NoDelay() Policy {
	p.BaseDelay = 0
	p.MaxDelay = 0
	p.Jitter = 0
	return p
}

// transientError marks a failure worth retrying, optionally with a server
// supplied wait.
type transientError struct {
	err   error
	after time.Duration
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Retryable marks err as transient.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// RetryAfter marks err as transient and asks for at least d before the next attempt.
func RetryAfter(err error, d time.Duration) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err, after: d}
}

// IsRetryable reports whether err was marked transient.
func IsRetryable(err error) bool {
	var te *transientError
	return errors.As(err, &te)
}

// Status classifies an HTTP response status. 429 and 5xx are transient
// (429 honours Retry-After in seconds); other non-2xx codes are permanent.
// A nil return means the status is a success.
func Status(resp *http.Response, body []byte, service string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	err := fmt.Errorf("%s returned status %d: %s", service, resp.StatusCode, truncate(body, 200))
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		if s := resp.Header.Get("Retry-After"); s != "" {
			if secs, perr := strconv.Atoi(s); perr == nil && secs > 0 {
				return RetryAfter(err, time.Duration(secs)*time.Second)
			}
		}
		return Retryable(err)
	case resp.StatusCode >= 500:
		return Retryable(err)
	default:
		return err
	}
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}

// Do calls fn until it succeeds, returns a permanent error, or the attempt
// budget runs out. Context cancellation stops retrying and returns ctx.Err().
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	b := p.newBackOff()
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := fn(ctx)
		if err == nil {
			return struct{}{}, nil
		}
		if !IsRetryable(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		b.hint(err)
		return struct{}{}, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(attempts)),
		backoff.WithMaxElapsedTime(0),
	)

	var perm *backoff.PermanentError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &perm):
		return perm.Err
	case ctx.Err() != nil:
		return ctx.Err()
	case IsRetryable(err):
		return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempts, err)
	default:
		return err
	}
}

// serverBackOff is the policy's exponential backoff, stretched to a
// server's Retry-After when that is longer.
type serverBackOff struct {
	backoff.BackOff
	max   time.Duration
	after time.Duration
}

func (p Policy) newBackOff() *serverBackOff {
	var b backoff.BackOff = &backoff.ZeroBackOff{}
	if p.BaseDelay > 0 {
		exp := backoff.NewExponentialBackOff()
		exp.InitialInterval = p.BaseDelay
		exp.Multiplier = 2
		exp.RandomizationFactor = p.Jitter
		exp.MaxInterval = p.MaxDelay
		if exp.MaxInterval <= 0 {
			exp.MaxInterval = p.BaseDelay
		}
		b = exp
	}
	b.Reset()
	return &serverBackOff{BackOff: b, max: p.MaxDelay}
}

// hint records the server-supplied wait carried by err, if any.
func (b *serverBackOff) hint(err error) {
	var te *transientError
	if errors.As(err, &te) {
		b.after = te.after
	}
}

func (b *serverBackOff) NextBackOff() time.Duration {
	d := b.BackOff.NextBackOff()
	if d != backoff.Stop && b.after > d {
		d = b.after
		if b.max > 0 && d > b.max {
			d = b.max
		}
	}
	b.after = 0
	return d
}
