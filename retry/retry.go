// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package retry provides a synchronous retry executor with pluggable
// backoff policies and an injectable [Sleeper].
//
// A [Retryable] runs an operation and, when it fails with an error accepted
// by its retry predicate, sleeps for the delay chosen by its [Policy] before
// trying again. Once the policy refuses another attempt, or the error is not
// retryable, the error is returned to the caller exactly as the operation
// returned it.
package retry

import (
	"errors"
	"time"
)

// Sleeper pauses the current goroutine.
type Sleeper interface {
	Sleep(time.Duration)
}

// SleeperFunc is an adapter to allow the use of ordinary functions as [Sleeper]s.
type SleeperFunc func(time.Duration)

// Sleep implements the [Sleeper] interface.
func (f SleeperFunc) Sleep(d time.Duration) {
	f(d)
}

// NativeSleeper sleeps with [time.Sleep].
type NativeSleeper struct{}

// Sleep implements the [Sleeper] interface.
func (NativeSleeper) Sleep(d time.Duration) {
	time.Sleep(d)
}

// Policy decides whether a failed attempt may be retried.
//
// Attempt is one-based and identifies the attempt which just failed.
type Policy interface {
	Backoff(attempt int, err error) (time.Duration, bool)
}

// PolicyFunc is an adapter to allow the use of ordinary functions as [Policy]s.
type PolicyFunc func(attempt int, err error) (time.Duration, bool)

// Backoff implements the [Policy] interface.
func (f PolicyFunc) Backoff(attempt int, err error) (time.Duration, bool) {
	return f(attempt, err)
}

// ExponentialPolicy doubles the delay after every failed attempt,
// starting from BaseDelay, for at most MaxRetries retries.
type ExponentialPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
}

// DefaultPolicy allows 6 retries with delays of 1s, 2s, 4s, 8s, 16s and 32s.
func DefaultPolicy() ExponentialPolicy {
	return ExponentialPolicy{
		MaxRetries: 6,
		BaseDelay:  time.Second,
	}
}

// Backoff implements the [Policy] interface.
func (p ExponentialPolicy) Backoff(attempt int, err error) (time.Duration, bool) {
	if attempt < 1 || attempt > p.MaxRetries {
		return 0, false
	}
	return p.BaseDelay << (attempt - 1), true
}

// ConstantPolicy waits Delay between attempts for at most MaxRetries retries.
type ConstantPolicy struct {
	MaxRetries int
	Delay      time.Duration
}

// Backoff implements the [Policy] interface.
func (p ConstantPolicy) Backoff(attempt int, err error) (time.Duration, bool) {
	if attempt < 1 || attempt > p.MaxRetries {
		return 0, false
	}
	return p.Delay, true
}

// On returns a predicate which accepts errors matching any of errs
// using [errors.Is]. With no errs, every error is accepted.
func On(errs ...error) func(error) bool {
	if len(errs) == 0 {
		return func(error) bool { return true }
	}
	return func(err error) bool {
		for _, e := range errs {
			if errors.Is(err, e) {
				return true
			}
		}
		return false
	}
}

// Options configure a [Retryable].
type Options struct {
	sleeper Sleeper
	policy  Policy
	retryIf func(error) bool
}

// Option sets a value on [Options].
type Option interface {
	ApplyRetryOption(*Options)
}

type optionFunc func(*Options)

func (f optionFunc) ApplyRetryOption(o *Options) {
	f(o)
}

// WithSleeper configures the [Sleeper] used between attempts.
// The default is [NativeSleeper].
func WithSleeper(s Sleeper) Option {
	return optionFunc(func(o *Options) {
		o.sleeper = s
	})
}

// WithPolicy configures the backoff [Policy]. The default is [DefaultPolicy].
func WithPolicy(p Policy) Option {
	return optionFunc(func(o *Options) {
		o.policy = p
	})
}

// RetryIf restricts retries to errors accepted by f. See [On].
// By default every error is retried.
func RetryIf(f func(error) bool) Option {
	return optionFunc(func(o *Options) {
		o.retryIf = f
	})
}

// Retryable executes operations with retries.
//
// A Retryable holds no per-call state so the attempt count of one
// operation is never shared with another.
type Retryable struct {
	sleeper Sleeper
	policy  Policy
	retryIf func(error) bool
}

// New initializes a [Retryable].
func New(opts ...Option) *Retryable {
	o := &Options{
		sleeper: NativeSleeper{},
		policy:  DefaultPolicy(),
		retryIf: On(),
	}
	for _, opt := range opts {
		opt.ApplyRetryOption(o)
	}
	return &Retryable{
		sleeper: o.sleeper,
		policy:  o.policy,
		retryIf: o.retryIf,
	}
}

// Run executes op until it succeeds or can no longer be retried.
func (r *Retryable) Run(op func() error) error {
	_, err := Do(r, func() (struct{}, error) {
		return struct{}{}, op()
	})
	return err
}

// Do executes op until it succeeds or can no longer be retried.
// The last error returned by op is returned unchanged.
func Do[T any](r *Retryable, op func() (T, error)) (T, error) {
	for attempt := 1; ; attempt++ {
		t, err := op()
		if err == nil {
			return t, nil
		}
		if !r.retryIf(err) {
			return t, err
		}

		delay, ok := r.policy.Backoff(attempt, err)
		if !ok {
			return t, err
		}
		r.sleeper.Sleep(delay)
	}
}
