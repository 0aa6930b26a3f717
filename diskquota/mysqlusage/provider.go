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
	"database/sql"
	"flag"
	"sync"

	"github.com/hostelcloud/hostel/diskquota"
	"k8s.io/klog/v2"
)

// SourceName identifies the MySQL usage source.
const SourceName = "mysql"

var (
	mySQLUsageURI = flag.String("mysql_usage_uri", "test:zaphod@tcp(127.0.0.1:3306)/", "Connection URI of the MySQL server storing the databases. "+
		"Only effective for --usage_source=mysql.")
	maxConns = flag.Int("mysql_usage_max_conns", 0, "Maximum connections to the MySQL usage source")

	mysqlMu  sync.Mutex
	mysqlDB  *sql.DB
	mysqlErr error
)

func init() {
	if err := diskquota.RegisterSource(SourceName, newMySQLSource); err != nil {
		klog.Fatalf("Failed to register usage source %v: %v", SourceName, err)
	}
}

func newMySQLSource() (diskquota.UsageSource, error) {
	mysqlMu.Lock()
	defer mysqlMu.Unlock()
	if mysqlDB == nil && mysqlErr == nil {
		mysqlDB, mysqlErr = OpenDB(*mySQLUsageURI)
		if mysqlErr == nil && *maxConns > 0 {
			mysqlDB.SetMaxOpenConns(*maxConns)
		}
	}
	if mysqlErr != nil {
		return nil, mysqlErr
	}
	klog.Info("Using MySQL usage source")
	return New(mysqlDB), nil
}
