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

package backoff

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDuration(t *testing.T) {
	for _, test := range []struct {
		times int
		want  time.Duration
	}{
		{times: 1, want: 1},
		{times: 2, want: 2},
		{times: 3, want: 4},
		{times: 4, want: 8},
		{times: 8, want: 100},
	} {
		b := Backoff{Min: 1, Max: 100, Factor: 2}
		var got time.Duration
		for i := 0; i < test.times; i++ {
			got = b.Duration()
		}
		if got != test.want {
			t.Errorf("Duration() %v times: %v, want %v", test.times, got, test.want)
		}
	}
}

func TestJitterBounds(t *testing.T) {
	b := Backoff{Min: time.Second, Max: 100 * time.Second, Factor: 2, Jitter: true}
	for i, want := range []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second} {
		if got := b.Duration(); got < want || got >= 2*want {
			t.Errorf("Duration() #%d = %v, want in [%v, %v)", i, got, want, 2*want)
		}
	}
}

var errTransient = errors.New("transient")

func TestRetry(t *testing.T) {
	errPermanent := errors.New("permanent")
	for _, test := range []struct {
		desc      string
		attempts  int
		errs      []error
		retry     RetryFunc
		wantCalls int
		wantErr   error
	}{
		{desc: "firstTime", errs: nil, wantCalls: 1},
		{desc: "afterRetries", errs: []error{errTransient, errTransient}, wantCalls: 3},
		{desc: "attemptsRunOut", attempts: 2, errs: []error{errTransient, errTransient, errTransient}, wantCalls: 2, wantErr: errTransient},
		{
			desc: "permanent",
			errs: []error{errTransient, errPermanent, errTransient},
			retry: func(err error) (bool, time.Duration) {
				return err == errTransient, 0
			},
			wantCalls: 2,
			wantErr:   errPermanent,
		},
		{
			desc: "hint",
			errs: []error{errTransient},
			retry: func(error) (bool, time.Duration) {
				return true, time.Millisecond
			},
			wantCalls: 2,
		},
	} {
		t.Run(test.desc, func(t *testing.T) {
			b := Backoff{Min: time.Microsecond, Max: time.Millisecond, Factor: 2, Attempts: test.attempts}
			calls := 0
			err := b.Retry(context.Background(), func(context.Context) error {
				calls++
				if calls <= len(test.errs) {
					return test.errs[calls-1]
				}
				return nil
			}, test.retry)
			if err != test.wantErr {
				t.Errorf("Retry() returned err = %v, want %v", err, test.wantErr)
			}
			if calls != test.wantCalls {
				t.Errorf("Retry() made %d calls, want %d", calls, test.wantCalls)
			}
		})
	}
}

func TestRetryContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	b := Backoff{Min: time.Hour, Max: time.Hour, Factor: 2}
	calls := 0
	f := func(context.Context) error {
		calls++
		return errTransient
	}
	if err := b.Retry(ctx, f, nil); err != context.Canceled {
		t.Errorf("Retry(done ctx) returned err = %v, want %v", err, context.Canceled)
	}
	if calls != 0 {
		t.Errorf("Retry(done ctx) made %d calls, want 0", calls)
	}

	ctx, cancel = context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := b.Retry(ctx, f, nil); err != errTransient {
		t.Errorf("Retry() returned err = %v, want %v", err, errTransient)
	}
	if calls != 1 {
		t.Errorf("Retry() made %d calls, want 1", calls)
	}
}
