package retry

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"
)

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	p := Default().NoDelay()
	calls := 0
	err := p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return Retryable(errors.New("503"))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDoStopsOnPermanentError(t *testing.T) {
	p := Default().NoDelay()
	permanent := errors.New("401 unauthorized")
	calls := 0
	err := p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return permanent
	})
	if !errors.Is(err, permanent) {
		t.Fatalf("err = %v, want permanent error", err)
	}
	if errors.Is(err, ErrExhausted) {
		t.Error("permanent error should not be reported as exhausted")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDoExhausted(t *testing.T) {
	p := Default().NoDelay()
	p.MaxAttempts = 4
	last := errors.New("timeout")
	calls := 0
	err := p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return Retryable(last)
	})
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("err = %v, want ErrExhausted", err)
	}
	if !errors.Is(err, last) {
		t.Errorf("exhausted error should wrap the last failure: %v", err)
	}
	if calls != 4 {
		t.Errorf("calls = %d, want 4", calls)
	}
}

func TestDoHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p := Default()
	calls := 0
	err := p.Do(ctx, func(ctx context.Context) error {
		calls++
		cancel()
		return Retryable(errors.New("429"))
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if errors.Is(err, ErrExhausted) {
		t.Error("cancellation should not be reported as exhausted")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDoCancelledBeforeFirstAttempt(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := Default().NoDelay().Do(ctx, func(ctx context.Context) error {
		calls++
		return nil
	})
	if !errors.Is(err, context.Canceled) || calls != 0 {
		t.Errorf("err = %v calls = %d, want context.Canceled and no calls", err, calls)
	}
}

func TestBackOffSequence(t *testing.T) {
	p := Policy{MaxAttempts: 5, BaseDelay: time.Second, MaxDelay: 5 * time.Second}
	b := p.newBackOff()
	for i, want := range []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second} {
		if got := b.NextBackOff(); got != want {
			t.Errorf("wait %d = %v, want %v", i+1, got, want)
		}
	}
}

func TestBackOffJitterBounds(t *testing.T) {
	p := Policy{BaseDelay: time.Second, MaxDelay: time.Minute, Jitter: 0.2}
	for i := 0; i < 100; i++ {
		d := p.newBackOff().NextBackOff()
		if d < 800*time.Millisecond || d > 1201*time.Millisecond {
			t.Fatalf("jittered delay %v outside [0.8s, 1.2s]", d)
		}
	}
}

func TestBackOffRetryAfter(t *testing.T) {
	p := Policy{BaseDelay: time.Second, MaxDelay: 10 * time.Second}

	b := p.newBackOff()
	b.hint(RetryAfter(errors.New("429"), 7*time.Second))
	if got := b.NextBackOff(); got != 7*time.Second {
		t.Errorf("delay = %v, want 7s", got)
	}
	// The hint applies once; the exponential sequence continues.
	if got := b.NextBackOff(); got != 2*time.Second {
		t.Errorf("delay after hint = %v, want 2s", got)
	}

	b = p.newBackOff()
	b.hint(RetryAfter(errors.New("429"), time.Minute))
	if got := b.NextBackOff(); got != 10*time.Second {
		t.Errorf("delay = %v, want capped 10s", got)
	}

	b = p.newBackOff()
	b.hint(Retryable(errors.New("503")))
	if got := b.NextBackOff(); got != time.Second {
		t.Errorf("delay without hint = %v, want 1s", got)
	}
}

func TestNoDelayWaitsNothing(t *testing.T) {
	b := Default().NoDelay().newBackOff()
	for i := 0; i < 3; i++ {
		if d := b.NextBackOff(); d != 0 {
			t.Fatalf("NoDelay wait = %v, want 0", d)
		}
	}
}

func TestStatus(t *testing.T) {
	tests := []struct {
		code       int
		retryAfter string
		wantNil    bool
		retryable  bool
	}{
		{http.StatusOK, "", true, false},
		{http.StatusTooManyRequests, "3", false, true},
		{http.StatusTooManyRequests, "", false, true},
		{http.StatusBadGateway, "", false, true},
		{http.StatusUnauthorized, "", false, false},
		{http.StatusBadRequest, "", false, false},
	}
	for _, tt := range tests {
		resp := &http.Response{StatusCode: tt.code, Header: http.Header{}}
		if tt.retryAfter != "" {
			resp.Header.Set("Retry-After", tt.retryAfter)
		}
		err := Status(resp, []byte("body"), "svc")
		if (err == nil) != tt.wantNil {
			t.Errorf("Status(%d) nil = %v, want %v", tt.code, err == nil, tt.wantNil)
			continue
		}
		if err != nil && IsRetryable(err) != tt.retryable {
			t.Errorf("Status(%d) retryable = %v, want %v", tt.code, IsRetryable(err), tt.retryable)
		}
	}
}

func TestNilErrorsStayNil(t *testing.T) {
	if Retryable(nil) != nil || RetryAfter(nil, time.Second) != nil {
		t.Error("wrapping nil should return nil")
	}
}
