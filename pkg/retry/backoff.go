// Copyright 2024 Couchbase, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

// Package retry wraps cenkalti/backoff/v4 with the full-jitter exponential
// policy spec §4.5 asks for (base 1s, cap 60s, unbounded retries), the same
// library the teacher uses for changefeed error backoff
// (cdc/owner/feed_state_manager.go).
package retry

import (
	"context"
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy configures a backoff sequence.
type Policy struct {
	Base       time.Duration
	Cap        time.Duration
	MaxRetries int // 0 means unbounded
}

// DefaultPolicy is the bulk-request retry policy spec §4.5 specifies.
var DefaultPolicy = Policy{
	Base:       time.Second,
	Cap:        60 * time.Second,
	MaxRetries: 0,
}

// NewBackOff builds a cenkalti/backoff BackOff that produces a full-jitter
// exponential sequence: each step is a uniform random duration in
// [0, min(cap, base*2^attempt)], both ends included.
func (p Policy) NewBackOff() backoff.BackOff {
	b := &fullJitterBackOff{base: p.Base, cap: p.Cap}
	if p.MaxRetries <= 0 {
		return b
	}
	return backoff.WithMaxRetries(b, uint64(p.MaxRetries))
}

type fullJitterBackOff struct {
	base    time.Duration
	cap     time.Duration
	attempt int
}

func (b *fullJitterBackOff) Reset() { b.attempt = 0 }

func (b *fullJitterBackOff) NextBackOff() time.Duration {
	exp := b.base << uint(b.attempt)
	if exp <= 0 || exp > b.cap {
		exp = b.cap
	}
	if b.attempt < 62 {
		b.attempt++
	}
	return time.Duration(rand.Int63n(int64(exp) + 1))
}

// Run retries fn with the policy's full-jitter backoff until it succeeds, ctx
// is cancelled, or the retry budget (if any) is exhausted. isRetryable
// decides whether a given error should be retried at all; a nil isRetryable
// retries every error, matching spec §4.5's "retries continue indefinitely"
// default for batch-level failures.
func Run(ctx context.Context, p Policy, isRetryable func(error) bool, fn func() error) error {
	bo := backoff.WithContext(p.NewBackOff(), ctx)
	for {
		err := fn()
		if err == nil {
			return nil
		}
		if isRetryable != nil && !isRetryable(err) {
			return err
		}
		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return err
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}
