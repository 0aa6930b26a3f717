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

package quota

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/hostelcloud/hostel"
	"github.com/hostelcloud/hostel/errors"
	"github.com/hostelcloud/hostel/monitoring"
	"github.com/hostelcloud/hostel/util/clock"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func init() {
	InitMetrics(monitoring.InertMetricFactory{})
}

const db = "/Root/serverless-1"

func newTestLimiter(t *testing.T, quotas ...hostel.SchemaQuota) (*Limiter, *clock.FakeTimeSource) {
	t.Helper()
	ts := clock.NewFake(t0)
	l := NewLimiter(NewMemoryStore(ts))
	if err := l.Configure(context.Background(), db, quotas); err != nil {
		t.Fatalf("Configure() returned err = %v", err)
	}
	return l, ts
}

func TestLimiter_TryAdmit(t *testing.T) {
	ctx := context.Background()
	l, ts := newTestLimiter(t, hostel.NewSchemaQuota(2, 60), hostel.NewSchemaQuota(4, 600))

	for i := 0; i < 2; i++ {
		r, err := l.TryAdmit(ctx, db, 1)
		if err != nil {
			t.Fatalf("TryAdmit() #%d returned err = %v", i, err)
		}
		r.Commit()
	}
	_, err := l.TryAdmit(ctx, db, 1)
	if got, want := status.Code(err), codes.ResourceExhausted; got != want {
		t.Errorf("TryAdmit() returned code %v, want %v", got, want)
	}
	if err == nil || !strings.Contains(err.Error(), "exceeded a limit") {
		t.Errorf("TryAdmit() returned err = %v, want it to contain %q", err, "exceeded a limit")
	}

	ts.Advance(time.Minute)
	if _, err := l.TryAdmit(ctx, db, 1); err != nil {
		t.Errorf("TryAdmit() after window returned err = %v", err)
	}
}

func TestLimiter_InvalidCost(t *testing.T) {
	l, _ := newTestLimiter(t)
	for _, cost := range []int64{0, -1} {
		if _, err := l.TryAdmit(context.Background(), db, cost); errors.KindOf(err) != errors.ConfigurationInvalid {
			t.Errorf("TryAdmit(cost=%v) returned err = %v, want ConfigurationInvalid", cost, err)
		}
	}
}

func TestLimiter_ConfigureValidates(t *testing.T) {
	l, _ := newTestLimiter(t, hostel.NewSchemaQuota(1, 60))
	tests := []struct {
		desc   string
		quotas []hostel.SchemaQuota
	}{
		{desc: "zeroCapacity", quotas: []hostel.SchemaQuota{hostel.NewSchemaQuota(0, 60)}},
		{desc: "zeroWindow", quotas: []hostel.SchemaQuota{hostel.NewSchemaQuota(1, 0)}},
		{desc: "secondInvalid", quotas: []hostel.SchemaQuota{hostel.NewSchemaQuota(1, 60), {Capacity: 1, Window: -time.Second}}},
	}
	for _, test := range tests {
		err := l.Configure(context.Background(), db, test.quotas)
		if got, want := status.Code(err), codes.InvalidArgument; got != want {
			t.Errorf("%v: Configure() returned code %v (err = %v), want %v", test.desc, got, err, want)
		}
	}

	// Rejected configurations leave the previous quotas in place.
	set, err := l.Peek(context.Background(), db)
	if err != nil {
		t.Fatalf("Peek() returned err = %v", err)
	}
	if len(set.Buckets) != 1 || set.Buckets[0].Capacity != 1 {
		t.Errorf("Peek() = %+v, want the original single bucket", set)
	}
}

func TestReservation(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		desc      string
		finish    func(*Reservation)
		wantAdmit bool
	}{
		{
			desc:   "commit",
			finish: func(r *Reservation) { r.Commit() },
		},
		{
			desc: "release",
			finish: func(r *Reservation) {
				if err := r.Release(ctx); err != nil {
					t.Errorf("Release() returned err = %v", err)
				}
			},
			wantAdmit: true,
		},
		{
			desc: "commitThenRelease",
			finish: func(r *Reservation) {
				r.Commit()
				if err := r.Release(ctx); err != nil {
					t.Errorf("Release() returned err = %v", err)
				}
			},
		},
		{
			desc: "releaseTwice",
			finish: func(r *Reservation) {
				r.Release(ctx)
				r.Release(ctx)
			},
			wantAdmit: true,
		},
	}
	for _, test := range tests {
		l, _ := newTestLimiter(t, hostel.NewSchemaQuota(2, 60))
		if _, err := l.TryAdmit(ctx, db, 1); err != nil {
			t.Fatalf("%v: TryAdmit() returned err = %v", test.desc, err)
		}
		r, err := l.TryAdmit(ctx, db, 1)
		if err != nil {
			t.Fatalf("%v: TryAdmit() returned err = %v", test.desc, err)
		}
		test.finish(r)

		_, err = l.TryAdmit(ctx, db, 1)
		if got := err == nil; got != test.wantAdmit {
			t.Errorf("%v: TryAdmit() after finish admitted = %v, want %v", test.desc, got, test.wantAdmit)
		}
	}
}

func TestLimiter_Drop(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLimiter(t, hostel.NewSchemaQuota(1, 60))
	if _, err := l.TryAdmit(ctx, db, 1); err != nil {
		t.Fatalf("TryAdmit() returned err = %v", err)
	}
	if err := l.Drop(ctx, db); err != nil {
		t.Fatalf("Drop() returned err = %v", err)
	}
	set, err := l.Peek(ctx, db)
	if err != nil {
		t.Fatalf("Peek() returned err = %v", err)
	}
	if len(set.Buckets) != 0 {
		t.Errorf("Peek() after Drop() = %+v, want no buckets", set)
	}
}

func TestNilReservation(t *testing.T) {
	var r *Reservation
	r.Commit()
	if err := r.Release(context.Background()); err != nil {
		t.Errorf("Release() on nil reservation returned err = %v", err)
	}
}
