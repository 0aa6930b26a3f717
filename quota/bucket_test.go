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
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/hostelcloud/hostel"
	"github.com/hostelcloud/hostel/errors"
)

var t0 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func TestBucketAt(t *testing.T) {
	b := Bucket{Capacity: 2, Window: time.Minute, Consumed: 2, WindowStart: t0}
	tests := []struct {
		desc string
		now  time.Time
		want Bucket
	}{
		{desc: "sameInstant", now: t0, want: b},
		{desc: "withinWindow", now: t0.Add(59 * time.Second), want: b},
		{
			desc: "windowElapsed",
			now:  t0.Add(time.Minute),
			want: Bucket{Capacity: 2, Window: time.Minute, WindowStart: t0.Add(time.Minute)},
		},
		{
			desc: "longAfter",
			now:  t0.Add(time.Hour),
			want: Bucket{Capacity: 2, Window: time.Minute, WindowStart: t0.Add(time.Hour)},
		},
	}
	for _, test := range tests {
		if diff := cmp.Diff(test.want, b.At(test.now)); diff != "" {
			t.Errorf("%v: At() diff (-want +got):\n%s", test.desc, diff)
		}
	}
}

func TestBucketSetTake(t *testing.T) {
	set := NewBucketSet(1, []hostel.SchemaQuota{hostel.NewSchemaQuota(2, 60), hostel.NewSchemaQuota(4, 600)}, t0)
	set.Buckets[0].Consumed = 2
	set.Buckets[1].Consumed = 1

	got, _, err := set.Take("/Root/db", t0.Add(10*time.Second), 1)
	if errors.KindOf(err) != errors.RateExceeded {
		t.Fatalf("Take() returned err = %v, want RateExceeded", err)
	}
	if diff := cmp.Diff(set, got); diff != "" {
		t.Errorf("rejected Take() modified set (-want +got):\n%s", diff)
	}
	if got, want := errors.RetryDelayOf(err), 50*time.Second; got != want {
		t.Errorf("RetryDelayOf() = %v, want %v", got, want)
	}

	got, ticket, err := set.Take("/Root/db", t0.Add(time.Minute), 1)
	if err != nil {
		t.Fatalf("Take() after rollover returned err = %v", err)
	}
	if diff := cmp.Diff([]int64{1, 2}, []int64{got.Buckets[0].Consumed, got.Buckets[1].Consumed}); diff != "" {
		t.Errorf("Take() consumed diff (-want +got):\n%s", diff)
	}
	wantTicket := Ticket{Database: "/Root/db", Cost: 1, Generation: 1, WindowStarts: []time.Time{t0.Add(time.Minute), t0}}
	if diff := cmp.Diff(wantTicket, ticket); diff != "" {
		t.Errorf("Take() ticket diff (-want +got):\n%s", diff)
	}
}

func TestBucketSetTakeCost(t *testing.T) {
	set := NewBucketSet(1, []hostel.SchemaQuota{hostel.NewSchemaQuota(5, 60)}, t0)
	if _, _, err := set.Take("/Root/db", t0, 6); err == nil {
		t.Errorf("Take(cost=6) on capacity 5 returned err = nil")
	}
	got, _, err := set.Take("/Root/db", t0, 5)
	if err != nil {
		t.Fatalf("Take(cost=5) returned err = %v", err)
	}
	if got.Buckets[0].Consumed != 5 {
		t.Errorf("Consumed = %v, want 5", got.Buckets[0].Consumed)
	}
}

func TestBucketSetReturn(t *testing.T) {
	set := NewBucketSet(7, []hostel.SchemaQuota{hostel.NewSchemaQuota(2, 60)}, t0)
	taken, ticket, err := set.Take("/Root/db", t0, 1)
	if err != nil {
		t.Fatalf("Take() returned err = %v", err)
	}

	tests := []struct {
		desc         string
		set          BucketSet
		ticket       Ticket
		now          time.Time
		wantReturned bool
		wantConsumed int64
	}{
		{desc: "sameWindow", set: taken, ticket: ticket, now: t0.Add(time.Second), wantReturned: true, wantConsumed: 0},
		{desc: "windowRolled", set: taken, ticket: ticket, now: t0.Add(time.Minute), wantConsumed: 1},
		{
			desc:         "replaced",
			set:          NewBucketSet(8, []hostel.SchemaQuota{hostel.NewSchemaQuota(2, 60)}, t0),
			ticket:       ticket,
			now:          t0,
			wantConsumed: 0,
		},
		{desc: "neverNegative", set: set, ticket: ticket, now: t0, wantReturned: true, wantConsumed: 0},
	}
	for _, test := range tests {
		got, returned := test.set.Return(test.ticket, test.now)
		if returned != test.wantReturned {
			t.Errorf("%v: Return() returned %v, want %v", test.desc, returned, test.wantReturned)
		}
		if got.Buckets[0].Consumed != test.wantConsumed {
			t.Errorf("%v: Consumed = %v, want %v", test.desc, got.Buckets[0].Consumed, test.wantConsumed)
		}
	}
}

func TestNextGeneration(t *testing.T) {
	if got, want := NextGeneration(0, t0), t0.UnixNano(); got != want {
		t.Errorf("NextGeneration(0) = %v, want %v", got, want)
	}
	prev := t0.UnixNano()
	if got, want := NextGeneration(prev, t0), prev+1; got != want {
		t.Errorf("NextGeneration(%v) = %v, want %v", prev, got, want)
	}
}
