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

// Package storetest contains the behavioural tests every quota.Store
// implementation must pass.
package storetest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/hostelcloud/hostel"
	"github.com/hostelcloud/hostel/errors"
	"github.com/hostelcloud/hostel/quota"
	"github.com/hostelcloud/hostel/util/clock"
)

// StartTime is the time the fake clock handed to NewStoreFunc starts at.
var StartTime = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

// NewStoreFunc returns the Store under test. Its bucket windows must follow ts.
type NewStoreFunc func(t *testing.T, ts clock.TimeSource) quota.Store

// RunStoreTests runs all Store tests against the stores returned by newStore.
func RunStoreTests(t *testing.T, newStore NewStoreFunc) {
	for _, test := range []struct {
		name string
		fn   func(*testing.T, quota.Store, *clock.FakeTimeSource, string)
	}{
		{name: "BucketExhaustion", fn: testBucketExhaustion},
		{name: "MultiBucketAnd", fn: testMultiBucketAnd},
		{name: "ConfigureResets", fn: testConfigureResets},
		{name: "NoBuckets", fn: testNoBuckets},
		{name: "Release", fn: testRelease},
		{name: "ReleaseAfterRollover", fn: testReleaseAfterRollover},
		{name: "ReleaseAfterConfigure", fn: testReleaseAfterConfigure},
		{name: "PeekDoesNotConsume", fn: testPeekDoesNotConsume},
		{name: "Drop", fn: testDrop},
		{name: "Isolation", fn: testIsolation},
		{name: "ConcurrentReserve", fn: testConcurrentReserve},
	} {
		t.Run(test.name, func(t *testing.T) {
			ts := clock.NewFake(StartTime)
			s := newStore(t, ts)
			// Databases are unique per test so that stores backed by a shared
			// server do not interfere.
			db := fmt.Sprintf("/Root/%s-%d", strings.ReplaceAll(t.Name(), "/", "_"), time.Now().UnixNano())
			test.fn(t, s, ts, db)
		})
	}
}

func configure(t *testing.T, s quota.Store, db string, quotas ...hostel.SchemaQuota) {
	t.Helper()
	if err := s.Configure(context.Background(), db, quotas); err != nil {
		t.Fatalf("Configure(%v, %v) returned err = %v", db, quotas, err)
	}
}

// admit reserves one unit and reports whether it was admitted.
func admit(t *testing.T, s quota.Store, db string) (quota.Ticket, bool) {
	t.Helper()
	ticket, err := s.Reserve(context.Background(), db, 1)
	switch {
	case err == nil:
		return ticket, true
	case errors.KindOf(err) == errors.RateExceeded:
		if !strings.Contains(err.Error(), "exceeded a limit") {
			t.Errorf("Reserve(%v) returned err = %q, want it to contain %q", db, err, "exceeded a limit")
		}
		return quota.Ticket{}, false
	}
	t.Fatalf("Reserve(%v) returned err = %v", db, err)
	return quota.Ticket{}, false
}

func expectAdmits(t *testing.T, s quota.Store, db string, want ...bool) {
	t.Helper()
	for i, w := range want {
		if _, got := admit(t, s, db); got != w {
			t.Errorf("admission #%d: admitted = %v, want %v", i+1, got, w)
		}
	}
}

func testBucketExhaustion(t *testing.T, s quota.Store, ts *clock.FakeTimeSource, db string) {
	configure(t, s, db, hostel.NewSchemaQuota(2, 60))
	expectAdmits(t, s, db, true, true, false)

	ts.Advance(59 * time.Second)
	expectAdmits(t, s, db, false)

	ts.Advance(time.Second)
	expectAdmits(t, s, db, true, true, false)
}

func testMultiBucketAnd(t *testing.T, s quota.Store, ts *clock.FakeTimeSource, db string) {
	configure(t, s, db, hostel.NewSchemaQuota(2, 60), hostel.NewSchemaQuota(4, 600))

	// The 60s bucket runs out first.
	expectAdmits(t, s, db, true, true, false)

	// The 60s bucket refills, leaving the 600s bucket as the bottleneck.
	ts.Advance(time.Minute)
	expectAdmits(t, s, db, true, true, false)
	ts.Advance(time.Minute)
	expectAdmits(t, s, db, false)

	// A rejected operation must not have consumed from the other bucket.
	set, err := s.Peek(context.Background(), db)
	if err != nil {
		t.Fatalf("Peek() returned err = %v", err)
	}
	got := []int64{set.Buckets[0].Consumed, set.Buckets[1].Consumed}
	if diff := cmp.Diff([]int64{0, 4}, got); diff != "" {
		t.Errorf("Peek() consumed diff (-want +got):\n%s", diff)
	}

	ts.Advance(8 * time.Minute)
	expectAdmits(t, s, db, true)
}

func testConfigureResets(t *testing.T, s quota.Store, ts *clock.FakeTimeSource, db string) {
	configure(t, s, db, hostel.NewSchemaQuota(2, 60))
	expectAdmits(t, s, db, true, true, false)

	ts.Advance(time.Second)
	configure(t, s, db, hostel.NewSchemaQuota(2, 60))
	expectAdmits(t, s, db, true, true, false)

	set, err := s.Peek(context.Background(), db)
	if err != nil {
		t.Fatalf("Peek() returned err = %v", err)
	}
	if got, want := set.Buckets[0].WindowStart, ts.Now(); !got.Equal(want) {
		t.Errorf("WindowStart = %v, want %v", got, want)
	}
}

func testNoBuckets(t *testing.T, s quota.Store, ts *clock.FakeTimeSource, db string) {
	// Never configured.
	expectAdmits(t, s, db, true, true, true)

	configure(t, s, db, hostel.NewSchemaQuota(1, 60))
	expectAdmits(t, s, db, true, false)

	// Removing all quotas lifts the limit.
	configure(t, s, db)
	expectAdmits(t, s, db, true, true, true)
}

func testRelease(t *testing.T, s quota.Store, ts *clock.FakeTimeSource, db string) {
	ctx := context.Background()
	configure(t, s, db, hostel.NewSchemaQuota(1, 60))
	ticket, ok := admit(t, s, db)
	if !ok {
		t.Fatalf("first admission rejected")
	}
	expectAdmits(t, s, db, false)

	if err := s.Release(ctx, ticket); err != nil {
		t.Fatalf("Release() returned err = %v", err)
	}
	expectAdmits(t, s, db, true, false)
}

func testReleaseAfterRollover(t *testing.T, s quota.Store, ts *clock.FakeTimeSource, db string) {
	ctx := context.Background()
	configure(t, s, db, hostel.NewSchemaQuota(1, 60), hostel.NewSchemaQuota(2, 600))
	ticket, ok := admit(t, s, db)
	if !ok {
		t.Fatalf("first admission rejected")
	}

	// The 60s window rolls over and is charged again; the 600s bucket is now
	// full.
	ts.Advance(time.Minute)
	expectAdmits(t, s, db, true)

	if err := s.Release(ctx, ticket); err != nil {
		t.Fatalf("Release() returned err = %v", err)
	}
	set, err := s.Peek(ctx, db)
	if err != nil {
		t.Fatalf("Peek() returned err = %v", err)
	}
	got := []int64{set.Buckets[0].Consumed, set.Buckets[1].Consumed}
	if diff := cmp.Diff([]int64{1, 1}, got); diff != "" {
		t.Errorf("Peek() consumed diff (-want +got):\n%s", diff)
	}
}

func testReleaseAfterConfigure(t *testing.T, s quota.Store, ts *clock.FakeTimeSource, db string) {
	ctx := context.Background()
	configure(t, s, db, hostel.NewSchemaQuota(2, 60))
	ticket, ok := admit(t, s, db)
	if !ok {
		t.Fatalf("first admission rejected")
	}

	ts.Advance(time.Second)
	configure(t, s, db, hostel.NewSchemaQuota(2, 60))
	expectAdmits(t, s, db, true)

	if err := s.Release(ctx, ticket); err != nil {
		t.Fatalf("Release() returned err = %v", err)
	}
	expectAdmits(t, s, db, true, false)
}

func testPeekDoesNotConsume(t *testing.T, s quota.Store, ts *clock.FakeTimeSource, db string) {
	ctx := context.Background()
	configure(t, s, db, hostel.NewSchemaQuota(2, 60), hostel.NewSchemaQuota(4, 600))
	expectAdmits(t, s, db, true)

	for i := 0; i < 3; i++ {
		set, err := s.Peek(ctx, db)
		if err != nil {
			t.Fatalf("Peek() returned err = %v", err)
		}
		want := []quota.Bucket{
			{Capacity: 2, Window: time.Minute, Consumed: 1, WindowStart: StartTime},
			{Capacity: 4, Window: 10 * time.Minute, Consumed: 1, WindowStart: StartTime},
		}
		if diff := cmp.Diff(want, set.Buckets, cmp.Comparer(func(a, b time.Time) bool { return a.Equal(b) })); diff != "" {
			t.Errorf("Peek() diff (-want +got):\n%s", diff)
		}
	}
	expectAdmits(t, s, db, true, false)
}

func testDrop(t *testing.T, s quota.Store, ts *clock.FakeTimeSource, db string) {
	ctx := context.Background()
	configure(t, s, db, hostel.NewSchemaQuota(1, 60))
	expectAdmits(t, s, db, true, false)

	if err := s.Drop(ctx, db); err != nil {
		t.Fatalf("Drop() returned err = %v", err)
	}
	set, err := s.Peek(ctx, db)
	if err != nil {
		t.Fatalf("Peek() returned err = %v", err)
	}
	if len(set.Buckets) != 0 {
		t.Errorf("Peek() after Drop returned %v buckets, want 0", len(set.Buckets))
	}

	configure(t, s, db, hostel.NewSchemaQuota(1, 60))
	expectAdmits(t, s, db, true, false)
}

func testIsolation(t *testing.T, s quota.Store, ts *clock.FakeTimeSource, db string) {
	other := db + "-other"
	configure(t, s, db, hostel.NewSchemaQuota(1, 60))
	configure(t, s, other, hostel.NewSchemaQuota(1, 60))

	expectAdmits(t, s, db, true, false)
	expectAdmits(t, s, other, true, false)
}

func testConcurrentReserve(t *testing.T, s quota.Store, ts *clock.FakeTimeSource, db string) {
	const n, k = 20, 7
	configure(t, s, db, hostel.NewSchemaQuota(k, 60))

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Reserve(context.Background(), db, 1)
			switch {
			case err == nil:
				mu.Lock()
				admitted++
				mu.Unlock()
			case errors.KindOf(err) != errors.RateExceeded:
				t.Errorf("Reserve() returned err = %v", err)
			}
		}()
	}
	wg.Wait()

	if admitted != k {
		t.Errorf("%d concurrent reservations admitted %d, want %d", n, admitted, k)
	}
}
