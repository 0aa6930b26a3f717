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

// Package mysqlusage measures the storage usage of databases kept in MySQL,
// one MySQL schema per logical database.
package mysqlusage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/go-sql-driver/mysql"
	"github.com/hostelcloud/hostel/diskquota"
	"k8s.io/klog/v2"
)

const (
	schemaSizeSQL = `
		SELECT COALESCE(SUM(data_length + index_length), 0)
		FROM information_schema.tables
		WHERE table_schema = ?`

	statsExpiryVar = "information_schema_stats_expiry"

	// ER_LOCK_DEADLOCK
	errNumDeadlock = 1213
)

// Source is a diskquota.UsageSource backed by MySQL.
//
// Sizes come from the information schema, which is approximate but constant
// time to query.
type Source struct {
	db *sql.DB
}

// New returns a Source querying db.
func New(db *sql.DB) *Source {
	return &Source{db: db}
}

// OpenDB opens a database handle for dsn.
func OpenDB(dsn string) (*sql.DB, error) {
	if _, err := mysql.ParseDSN(dsn); err != nil {
		return nil, fmt.Errorf("invalid MySQL DSN: %v", err)
	}
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		// Don't log uri as it could contain credentials
		klog.Warningf("Could not open MySQL database, check config: %s", err)
		return nil, err
	}
	return db, nil
}

// Usage implements diskquota.UsageSource. Databases without a schema use no
// storage.
func (s *Source) Usage(ctx context.Context, database string) (int64, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err := conn.Close(); err != nil {
			klog.Errorf("Close(): %v", err)
		}
	}()
	if err := turnOffStatsCache(ctx, conn); err != nil {
		return 0, err
	}
	var size int64
	if err := conn.QueryRowContext(ctx, schemaSizeSQL, diskquota.StoreName(database)).Scan(&size); err != nil {
		return 0, toUsageErr(database, err)
	}
	return size, nil
}

// turnOffStatsCache makes MySQL 8 read table sizes from the storage engine
// instead of its statistics cache. Earlier versions lack the variable and are
// left alone.
func turnOffStatsCache(ctx context.Context, conn *sql.Conn) error {
	var name string
	var expiry int
	err := conn.QueryRowContext(ctx, "SHOW VARIABLES LIKE '"+statsExpiryVar+"'").Scan(&name, &expiry)
	switch {
	case err == sql.ErrNoRows:
		return nil
	case err != nil:
		return fmt.Errorf("failed to get variable %q: %v", statsExpiryVar, err)
	case expiry == 0:
		return nil
	}
	if _, err := conn.ExecContext(ctx, "SET SESSION "+statsExpiryVar+"=0"); err != nil {
		return fmt.Errorf("failed to set variable %q: %v", statsExpiryVar, err)
	}
	return nil
}

func toUsageErr(database string, err error) error {
	if mysqlErr, ok := err.(*mysql.MySQLError); ok && mysqlErr.Number == errNumDeadlock {
		return fmt.Errorf("size of %s: transient MySQL error, retry: %w", database, err)
	}
	return fmt.Errorf("size of %s: %w", database, err)
}
