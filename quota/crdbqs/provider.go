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
	"database/sql"
	"flag"
	"time"

	"github.com/hostelcloud/hostel/quota"
	"github.com/hostelcloud/hostel/util/clock"
	"k8s.io/klog/v2"

	_ "github.com/lib/pq" // Register the Postgres driver.
)

// StoreName identifies the CockroachDB bucket store.
const StoreName = "crdb"

var (
	crdbURI  = flag.String("crdb_quota_uri", "postgresql://root@localhost:26257/hostel?sslmode=disable", "Connection URI for the CockroachDB database keeping schema quota buckets")
	maxConns = flag.Int("crdb_quota_max_conns", 0, "Maximum connections to the schema quota database")
)

func init() {
	if err := quota.RegisterStore(StoreName, newCockroachDBStore); err != nil {
		klog.Fatalf("Failed to register quota store %v: %v", StoreName, err)
	}
}

// OpenDB opens a database handle to the given URI using the Postgres driver.
func OpenDB(uri string) (*sql.DB, error) {
	db, err := sql.Open("postgres", uri)
	if err != nil {
		return nil, err
	}
	if *maxConns > 0 {
		db.SetMaxOpenConns(*maxConns)
	}
	return db, nil
}

func newCockroachDBStore(ts clock.TimeSource) (quota.Store, error) {
	db, err := OpenDB(*crdbURI)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := CreateTable(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	klog.Info("Using CockroachDB quota store")
	return New(db, ts), nil
}
