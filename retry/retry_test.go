// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/danielhkuo/verivote/apperr"
)

func fastPolicy(attempts int) Policy {
	return Policy{Attempts: attempts, BackoffMin: time.Millisecond, BackoffMax: 2 * time.Millisecond, Code: apperr.CodeChain}
}

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	var retried []int
	p := fastPolicy(4)
	p.OnRetry = func(attempt int, err error) { retried = append(retried, attempt) }

	err := Do(context.Background(), p, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("connection refused")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if len(retried) != 2 {
		t.Errorf("OnRetry called %d times, want 2", len(retried))
	}
}

func TestDoExhaustsBudget(t *testing.T) {
	cause := errors.New("503 from gateway")
	calls := 0
	err := Do(context.Background(), fastPolicy(3), func(ctx context.Context) error {
		calls++
		return cause
	})

	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if apperr.KindOf(err) != apperr.KindExternal || apperr.CodeOf(err) != apperr.CodeChain {
		t.Errorf("err = %v, want external chain_unavailable", err)
	}
	if !errors.Is(err, cause) {
		t.Error("exhaustion error should wrap the last failure")
	}
	if !apperr.KindOf(err).Retryable() {
		t.Error("exhausted budget should be reported retryable")
	}
}

func TestDoStopsOnPermanentError(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(5), func(ctx context.Context) error {
		calls++
		return apperr.New(apperr.KindValidation, apperr.CodeInvalidPayload, "bad input")
	})
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if apperr.KindOf(err) != apperr.KindValidation {
		t.Errorf("kind = %v, want validation", apperr.KindOf(err))
	}
}

func TestDoAppliesPerAttemptTimeout(t *testing.T) {
	p := fastPolicy(2)
	p.Timeout = 5 * time.Millisecond

	err := Do(context.Background(), p, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
}

func TestDoHonorsCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{Attempts: 10, BackoffMin: time.Hour, BackoffMax: time.Hour}

	done := make(chan error, 1)
	go func() {
		done <- Do(ctx, p, func(ctx context.Context) error { return errors.New("down") })
	}()
	cancel()

	select {
	case err := <-done:
		if apperr.KindOf(err) != apperr.KindExternal {
			t.Errorf("kind = %v, want external", apperr.KindOf(err))
		}
	case <-time.After(time.Second):
		t.Fatal("Do() did not return after cancel")
	}
}

func TestDoStopsOnPermanentExternalError(t *testing.T) {
	calls := 0
	reverted := apperr.New(apperr.KindExternal, apperr.CodeTxReverted, "reverted")
	err := Do(context.Background(), fastPolicy(5), func(ctx context.Context) error {
		calls++
		return Permanent(reverted)
	})
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if apperr.CodeOf(err) != apperr.CodeTxReverted {
		t.Errorf("err = %v, want tx_reverted unwrapped", err)
	}
}

func TestBackOff(t *testing.T) {
	p := Policy{BackoffMin: 10 * time.Millisecond, BackoffMax: 100 * time.Millisecond}
	b := p.BackOff()
	want := []time.Duration{
		10 * time.Millisecond,
		20 * time.Millisecond,
		40 * time.Millisecond,
		80 * time.Millisecond,
		100 * time.Millisecond,
		100 * time.Millisecond,
	}
	for i, w := range want {
		if got := b.NextBackOff(); got != w {
			t.Errorf("delay %d = %v, want %v", i+1, got, w)
		}
	}

	def := Policy{}.BackOff()
	if def.InitialInterval != defaultBackoffMin || def.MaxInterval != defaultBackoffMax {
		t.Errorf("default schedule = %v..%v", def.InitialInterval, def.MaxInterval)
	}
}
