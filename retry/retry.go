// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

// Package retry runs calls to external services with a per-attempt timeout
// and bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/danielhkuo/verivote/apperr"
)

const (
	defaultBackoffMin = 100 * time.Millisecond
	defaultBackoffMax = 5 * time.Second
)

// Policy bounds a retried call.
type Policy struct {
	Attempts   int
	Timeout    time.Duration // per attempt; zero means no extra deadline
	BackoffMin time.Duration
	BackoffMax time.Duration
	// Code is the apperr code reported once the budget is spent.
	Code string
	// OnRetry is called before each backoff sleep.
	OnRetry func(attempt int, err error)
}

// BackOff returns the exponential schedule of the policy. Delays double from
// BackoffMin up to BackoffMax with no jitter.
func (p Policy) BackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BackoffMin
	if b.InitialInterval <= 0 {
		b.InitialInterval = defaultBackoffMin
	}
	b.MaxInterval = p.BackoffMax
	if b.MaxInterval <= 0 {
		b.MaxInterval = defaultBackoffMax
	}
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.Reset()
	return b
}

// Permanent marks err so Do returns it without further attempts, even when
// it is an external service error.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Do calls fn until it succeeds, the attempts are used up or ctx ends.
// apperr errors of a kind other than external service, and errors wrapped
// with Permanent, are returned at once. Exhausting the budget yields an
// external service error wrapping the last failure.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	attempts := max(p.Attempts, 1)
	code := p.Code
	if code == "" {
		code = apperr.CodeStorage
	}

	var (
		tries   int
		lastErr error
		stopped bool
	)
	op := func() (struct{}, error) {
		tries++
		err := call(ctx, p.Timeout, fn)
		if err == nil {
			return struct{}{}, nil
		}
		lastErr = err
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			lastErr = perm.Err
			stopped = true
			return struct{}{}, err
		}
		var ae *apperr.Error
		if errors.As(err, &ae) && ae.Kind != apperr.KindExternal {
			stopped = true
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}

	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(p.BackOff()),
		backoff.WithMaxTries(uint(attempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, _ time.Duration) {
			if p.OnRetry != nil {
				p.OnRetry(tries, err)
			}
		}),
	)
	switch {
	case err == nil:
		return nil
	case stopped:
		return lastErr
	case ctx.Err() != nil:
		return apperr.Wrap(apperr.KindExternal, code, errors.Join(ctx.Err(), lastErr), "gave up waiting to retry")
	}
	return apperr.Wrap(apperr.KindExternal, code, lastErr,
		fmt.Sprintf("failed after %d attempts", tries))
}

func call(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(attemptCtx)
}
