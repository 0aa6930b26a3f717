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

// Package pgusage measures the storage usage of databases kept in
// PostgreSQL, one PostgreSQL database per logical database.
package pgusage

import (
	"context"
	"errors"
	"fmt"

	"github.com/hostelcloud/hostel/diskquota"
	herrors "github.com/hostelcloud/hostel/errors"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"k8s.io/klog/v2"
)

const databaseSizeSQL = "SELECT pg_database_size($1)"

// Source is a diskquota.UsageSource backed by PostgreSQL.
type Source struct {
	db *pgxpool.Pool
}

// New returns a Source querying db.
func New(db *pgxpool.Pool) *Source {
	return &Source{db: db}
}

// OpenDB opens a connection pool to uri.
func OpenDB(ctx context.Context, uri string) (*pgxpool.Pool, error) {
	db, err := pgxpool.New(ctx, uri)
	if err != nil {
		// Don't log uri as it could contain credentials
		klog.Warningf("Could not open PostgreSQL database, check config: %s", err)
		return nil, err
	}
	return db, nil
}

// Usage implements diskquota.UsageSource. It returns the on-disk size of the
// PostgreSQL database backing database.
func (s *Source) Usage(ctx context.Context, database string) (int64, error) {
	var size int64
	if err := s.db.QueryRow(ctx, databaseSizeSQL, diskquota.StoreName(database)).Scan(&size); err != nil {
		return 0, toUsageErr(database, err)
	}
	return size, nil
}

func toUsageErr(database string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.InvalidCatalogName {
		return herrors.Wrap(herrors.NotFound, err, "database %q has no PostgreSQL storage", database)
	}
	return fmt.Errorf("pg_database_size(%s): %w", database, err)
}
