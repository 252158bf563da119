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

package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFullJitterBackOffNeverExceedsCap(t *testing.T) {
	t.Parallel()

	b := &fullJitterBackOff{base: time.Second, cap: 60 * time.Second}
	for i := 0; i < 200; i++ {
		wait := b.NextBackOff()
		require.LessOrEqual(t, wait, 60*time.Second)
		require.GreaterOrEqual(t, wait, time.Duration(0))
	}
}

func TestRunRetriesUntilSuccess(t *testing.T) {
	t.Parallel()

	attempts := 0
	err := Run(context.Background(), Policy{Base: time.Millisecond, Cap: 5 * time.Millisecond}, nil, func() error {
		attempts++
		if attempts < 4 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 4, attempts)
}

func TestRunStopsOnNonRetryableError(t *testing.T) {
	t.Parallel()

	sentinel := errors.New("permanent")
	attempts := 0
	err := Run(context.Background(), Policy{Base: time.Millisecond, Cap: time.Millisecond}, func(error) bool {
		return false
	}, func() error {
		attempts++
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)
	require.Equal(t, 1, attempts)
}

func TestRunHonorsContextCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Run(ctx, Policy{Base: time.Hour, Cap: time.Hour}, nil, func() error {
		return errors.New("transient")
	})
	require.ErrorIs(t, err, context.Canceled)
}
