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

package mysqlusage

import (
	"context"
	"os"
	"testing"
)

// testURIEnv names the ENV variable holding the DSN of a MySQL server to run
// the integration tests against. The value must have a trailing slash.
const testURIEnv = "TEST_MYSQL_URI"

func TestOpenDBRejectsBadDSN(t *testing.T) {
	if _, err := OpenDB("tcp(127.0.0.1:3306"); err == nil {
		t.Error("OpenDB(bad DSN) returned err = nil, want non-nil")
	}
}

func TestUsage(t *testing.T) {
	uri := os.Getenv(testURIEnv)
	if uri == "" {
		t.Skipf("%s not set, skipping MySQL test", testURIEnv)
	}
	ctx := context.Background()
	db, err := OpenDB(uri)
	if err != nil {
		t.Fatalf("OpenDB() returned err = %v", err)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		t.Skipf("MySQL not reachable: %v", err)
	}
	s := New(db)

	if _, err := db.ExecContext(ctx, "CREATE DATABASE IF NOT EXISTS root_usage_test"); err != nil {
		t.Fatalf("CREATE DATABASE: %v", err)
	}
	defer db.ExecContext(ctx, "DROP DATABASE root_usage_test")
	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS root_usage_test.t (id INT PRIMARY KEY, v TEXT)"); err != nil {
		t.Fatalf("CREATE TABLE: %v", err)
	}

	size, err := s.Usage(ctx, "/Root/usage-test")
	if err != nil {
		t.Fatalf("Usage() returned err = %v", err)
	}
	if size <= 0 {
		t.Errorf("Usage() = %d, want > 0", size)
	}

	size, err = s.Usage(ctx, "/Root/no-such-schema")
	if err != nil {
		t.Fatalf("Usage(missing) returned err = %v", err)
	}
	if size != 0 {
		t.Errorf("Usage(missing) = %d, want 0", size)
	}
}
