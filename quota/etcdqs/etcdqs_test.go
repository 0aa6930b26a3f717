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

package etcdqs

import (
	"context"
	"testing"
	"time"

	"github.com/hostelcloud/hostel"
	"github.com/hostelcloud/hostel/quota"
	"github.com/hostelcloud/hostel/quota/storetest"
	"github.com/hostelcloud/hostel/testonly/integration/etcd"
	"github.com/hostelcloud/hostel/util/clock"
)

func TestStore(t *testing.T) {
	client := etcd.StartForTest(t)
	storetest.RunStoreTests(t, func(t *testing.T, ts clock.TimeSource) quota.Store {
		return New(client, "test/"+t.Name(), ts)
	})
}

func TestStoresShareBuckets(t *testing.T) {
	ctx := context.Background()
	client := etcd.StartForTest(t)
	ts := clock.NewFake(storetest.StartTime)

	// Two gates sharing one etcd cluster see the same buckets.
	a := New(client, DefaultPrefix, ts)
	b := New(client, DefaultPrefix, ts)
	const db = "/Root/shared"
	if err := a.Configure(ctx, db, []hostel.SchemaQuota{hostel.NewSchemaQuota(2, 60)}); err != nil {
		t.Fatalf("Configure() returned err = %v", err)
	}

	for i, s := range []*Store{a, b} {
		if _, err := s.Reserve(ctx, db, 1); err != nil {
			t.Fatalf("Reserve() #%d returned err = %v", i, err)
		}
	}
	if _, err := a.Reserve(ctx, db, 1); err == nil {
		t.Errorf("third Reserve() returned err = nil, want RateExceeded")
	}

	ts.Advance(time.Minute)
	if _, err := b.Reserve(ctx, db, 1); err != nil {
		t.Errorf("Reserve() after window returned err = %v", err)
	}
}
