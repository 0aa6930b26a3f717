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

// Package crdbqs stores schema operation buckets in CockroachDB (or any
// PostgreSQL-compatible database).
//
// Each database has one row. Reservations lock the row with SELECT ... FOR
// UPDATE inside a transaction that is retried on serialization failures.
package crdbqs

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/cockroach-go/v2/crdb"
	"github.com/hostelcloud/hostel"
	"github.com/hostelcloud/hostel/quota"
	"github.com/hostelcloud/hostel/util/clock"
)

const (
	createTableSQL = `CREATE TABLE IF NOT EXISTS SchemaQuotaBuckets(
  DatabasePath STRING NOT NULL PRIMARY KEY,
  Generation   INT8 NOT NULL,
  Buckets      JSONB NOT NULL
)`
	selectForUpdateSQL = "SELECT Generation, Buckets FROM SchemaQuotaBuckets WHERE DatabasePath = $1 FOR UPDATE"
	selectSQL          = "SELECT Generation, Buckets FROM SchemaQuotaBuckets WHERE DatabasePath = $1"
	upsertSQL          = `INSERT INTO SchemaQuotaBuckets (DatabasePath, Generation, Buckets) VALUES ($1, $2, $3)
ON CONFLICT (DatabasePath) DO UPDATE SET Generation = excluded.Generation, Buckets = excluded.Buckets`
	updateSQL = "UPDATE SchemaQuotaBuckets SET Buckets = $2 WHERE DatabasePath = $1 AND Generation = $3"
	deleteSQL = "DELETE FROM SchemaQuotaBuckets WHERE DatabasePath = $1"
)

// Store is a quota.Store backed by a SQL table.
type Store struct {
	db *sql.DB
	ts clock.TimeSource
}

var _ quota.Store = &Store{}

// New returns a Store using db. CreateTable must have been called on the
// database at least once.
func New(db *sql.DB, ts clock.TimeSource) *Store {
	return &Store{db: db, ts: ts}
}

// CreateTable creates the bucket table if it does not exist.
func CreateTable(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, createTableSQL)
	return err
}

// scanSet reads the bucket set of database. It returns nil if there is none.
func scanSet(row *sql.Row) (*quota.BucketSet, error) {
	var (
		set quota.BucketSet
		raw []byte
	)
	if err := row.Scan(&set.Generation, &raw); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, &set.Buckets); err != nil {
		return nil, fmt.Errorf("crdbqs: bad buckets: %v", err)
	}
	return &set, nil
}

func marshalBuckets(set quota.BucketSet) ([]byte, error) {
	if set.Buckets == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(set.Buckets)
}

// Configure implements quota.Store.
func (s *Store) Configure(ctx context.Context, database string, quotas []hostel.SchemaQuota) error {
	return crdb.ExecuteTx(ctx, s.db, nil, func(tx *sql.Tx) error {
		prev, err := scanSet(tx.QueryRowContext(ctx, selectForUpdateSQL, database))
		if err != nil {
			return err
		}
		var prevGen int64
		if prev != nil {
			prevGen = prev.Generation
		}
		now := s.ts.Now()
		set := quota.NewBucketSet(quota.NextGeneration(prevGen, now), quotas, now)
		raw, err := marshalBuckets(set)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, upsertSQL, database, set.Generation, raw)
		return err
	})
}

// Reserve implements quota.Store.
func (s *Store) Reserve(ctx context.Context, database string, cost int64) (quota.Ticket, error) {
	t := quota.Ticket{Database: database, Cost: cost}
	err := crdb.ExecuteTx(ctx, s.db, nil, func(tx *sql.Tx) error {
		prev, err := scanSet(tx.QueryRowContext(ctx, selectForUpdateSQL, database))
		if err != nil || prev == nil {
			return err
		}
		next, ticket, err := prev.Take(database, s.ts.Now(), cost)
		if err != nil {
			return err
		}
		raw, err := marshalBuckets(next)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, updateSQL, database, raw, next.Generation); err != nil {
			return err
		}
		t = ticket
		return nil
	})
	if err != nil {
		return quota.Ticket{}, err
	}
	return t, nil
}

// Release implements quota.Store.
func (s *Store) Release(ctx context.Context, t quota.Ticket) error {
	return crdb.ExecuteTx(ctx, s.db, nil, func(tx *sql.Tx) error {
		prev, err := scanSet(tx.QueryRowContext(ctx, selectForUpdateSQL, t.Database))
		if err != nil || prev == nil {
			return err
		}
		next, returned := prev.Return(t, s.ts.Now())
		if !returned {
			return nil
		}
		raw, err := marshalBuckets(next)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, updateSQL, t.Database, raw, next.Generation)
		return err
	})
}

// Peek implements quota.Store.
func (s *Store) Peek(ctx context.Context, database string) (quota.BucketSet, error) {
	set, err := scanSet(s.db.QueryRowContext(ctx, selectSQL, database))
	if err != nil || set == nil {
		return quota.BucketSet{}, err
	}
	return set.At(s.ts.Now()), nil
}

// Drop implements quota.Store.
func (s *Store) Drop(ctx context.Context, database string) error {
	_, err := s.db.ExecContext(ctx, deleteSQL, database)
	return err
}
