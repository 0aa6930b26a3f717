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

package pgusage

import (
	"context"
	"flag"
	"sync"

	"github.com/hostelcloud/hostel/diskquota"
	"github.com/jackc/pgx/v5/pgxpool"
	"k8s.io/klog/v2"
)

// SourceName identifies the PostgreSQL usage source.
const SourceName = "postgresql"

var (
	pgUsageURI = flag.String("pg_usage_uri", "postgresql:///postgres?host=localhost&user=test", "Connection URI of the PostgreSQL server storing the databases. "+
		"Only effective for --usage_source=postgresql.")

	pgMu  sync.Mutex
	pgDB  *pgxpool.Pool
	pgErr error
)

func init() {
	if err := diskquota.RegisterSource(SourceName, newPostgreSQLSource); err != nil {
		klog.Fatalf("Failed to register usage source %v: %v", SourceName, err)
	}
}

func newPostgreSQLSource() (diskquota.UsageSource, error) {
	pgMu.Lock()
	defer pgMu.Unlock()
	if pgDB == nil && pgErr == nil {
		pgDB, pgErr = OpenDB(context.Background(), *pgUsageURI)
	}
	if pgErr != nil {
		return nil, pgErr
	}
	klog.Info("Using PostgreSQL usage source")
	return New(pgDB), nil
}
