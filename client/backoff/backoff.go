// Copyright 2017 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package backoff retries operations with exponentially growing pauses.
package backoff

import (
	"context"
	"math/rand"
	"time"

	"github.com/hostelcloud/hostel/util/clock"
)

// Backoff specifies the parameters of the backoff algorithm. Works correctly
// if 0 < Min <= Max <= 2^62 (nanosec), and Factor >= 1.
type Backoff struct {
	Min    time.Duration // Duration of the first pause.
	Max    time.Duration // Max duration of a pause.
	Factor float64       // The factor of duration increase between iterations.
	Jitter bool          // Add random noise to pauses.

	// Attempts bounds the number of calls made by Retry. Zero means no bound.
	Attempts int

	// TimeSource measures pauses. Defaults to clock.System.
	TimeSource clock.TimeSource

	delta time.Duration // Current pause duration relative to Min, no jitter.
}

// Duration returns the time to wait on current retry iteration. Pauses grow
// by Factor up to Max. With Jitter a random value in [0, pause) is added.
func (b *Backoff) Duration() time.Duration {
	pause := b.Min + b.delta

	next := time.Duration(float64(pause) * b.Factor)
	if next > b.Max || next < b.Min { // Overflow.
		next = b.Max
	}
	b.delta = next - b.Min

	if b.Jitter {
		pause += time.Duration(rand.Int63n(int64(pause)))
	}
	return pause
}

// Reset sets the internal state back to first iteration.
func (b *Backoff) Reset() {
	b.delta = 0
}

// RetryFunc classifies an error returned by the retried operation. It returns
// whether the operation may be retried, and a minimum pause before the next
// attempt (zero for none).
type RetryFunc func(err error) (retry bool, atLeast time.Duration)

// Retry calls f until it succeeds, returns an error that retry rejects, the
// attempts run out or ctx is done. The last error of f is returned in all
// these cases, except when ctx is done before the first attempt. A nil retry
// retries every error. Backoff is not reset by this function.
func (b *Backoff) Retry(ctx context.Context, f func(ctx context.Context) error, retry RetryFunc) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	ts := b.TimeSource
	if ts == nil {
		ts = clock.System
	}

	for attempt := 1; ; attempt++ {
		err := f(ctx)
		if err == nil {
			return nil
		}
		pause := b.Duration()
		if retry != nil {
			ok, atLeast := retry(err)
			if !ok {
				return err
			}
			pause = max(pause, atLeast)
		}
		if b.Attempts > 0 && attempt >= b.Attempts {
			return err
		}
		if clock.SleepSource(ctx, pause, ts) != nil {
			return err
		}
	}
}
