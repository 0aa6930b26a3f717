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

package crdbqs

import (
	"context"
	"os"
	"testing"

	"github.com/cockroachdb/cockroach-go/v2/testserver"
	"github.com/hostelcloud/hostel/quota"
	"github.com/hostelcloud/hostel/quota/storetest"
	"github.com/hostelcloud/hostel/util/clock"
	"k8s.io/klog/v2"
)

// testURI points at the database the tests run against. It is empty if no
// CockroachDB server could be started.
var testURI string

func TestMain(m *testing.M) {
	if uri := os.Getenv("TEST_CRDB_URI"); uri != "" {
		testURI = uri
		os.Exit(m.Run())
	}

	ts, err := testserver.NewTestServer()
	if err != nil {
		klog.Warningf("Failed to start CockroachDB test server, skipping CockroachDB tests: %v", err)
		os.Exit(m.Run())
	}
	testURI = ts.PGURL().String()
	status := m.Run()
	ts.Stop()
	os.Exit(status)
}

func openTestDB(t *testing.T) *Store {
	t.Helper()
	if testURI == "" {
		t.Skip("CockroachDB not available")
	}
	db, err := OpenDB(testURI)
	if err != nil {
		t.Fatalf("OpenDB() returned err = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := CreateTable(context.Background(), db); err != nil {
		t.Fatalf("CreateTable() returned err = %v", err)
	}
	return New(db, clock.System)
}

func TestStore(t *testing.T) {
	base := openTestDB(t)
	storetest.RunStoreTests(t, func(t *testing.T, ts clock.TimeSource) quota.Store {
		return New(base.db, ts)
	})
}
