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

// Package quota implements the rate limiter for schema operations.
//
// Each database owns a set of fixed-window buckets, one per configured
// SchemaQuota. A schema operation is admitted only if every bucket of its
// database has headroom, in which case one unit is taken from all of them.
// A bucket whose window has elapsed starts over with nothing consumed; windows
// are fixed, not sliding.
//
// Admission is two-phase: TryAdmit reserves units and returns a Reservation
// that is either committed, once the operation is dispatched, or released if
// the operation never ran. Bucket state lives in a Store; the memory store is
// always available and other backends register themselves by name.
package quota

import (
	"context"
	"time"

	"github.com/hostelcloud/hostel"
)

// Store keeps the bucket sets of all databases. Implementations must apply
// Reserve atomically per database: concurrent reservations for the same
// database never take more units than the buckets hold. Databases never share
// state.
type Store interface {
	// Configure replaces all buckets of database with fresh ones built from
	// quotas. Windows restart and a new generation begins. An empty quotas
	// removes all limits.
	Configure(ctx context.Context, database string, quotas []hostel.SchemaQuota) error

	// Reserve takes cost units from every bucket of database, or from none
	// of them. It returns a RateExceeded error naming the first exhausted
	// bucket if any lacks headroom. Databases without buckets always admit.
	Reserve(ctx context.Context, database string, cost int64) (Ticket, error)

	// Release returns the units held by t, as far as the buckets they were
	// taken from still exist in the same window.
	Release(ctx context.Context, t Ticket) error

	// Peek returns the bucket set of database as of now, without modifying
	// it.
	Peek(ctx context.Context, database string) (BucketSet, error)

	// Drop discards all state of database.
	Drop(ctx context.Context, database string) error
}

// Ticket records what a successful Reserve took, so it can be given back.
type Ticket struct {
	Database string
	Cost     int64

	// Generation of the bucket set the units were taken from.
	Generation int64

	// WindowStarts holds, for every bucket, the start of the window the units
	// were taken in.
	WindowStarts []time.Time
}
