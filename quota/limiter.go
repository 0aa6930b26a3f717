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

package quota

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/hostelcloud/hostel"
	"github.com/hostelcloud/hostel/errors"
	"github.com/hostelcloud/hostel/monitoring"
	"k8s.io/klog/v2"
)

// Limiter admits schema operations against the buckets kept in a Store.
// TryAdmit never waits: it either reserves units or fails at once.
type Limiter struct {
	store Store
}

// NewLimiter returns a Limiter backed by store.
func NewLimiter(store Store) *Limiter {
	return &Limiter{store: store}
}

// TryAdmit reserves cost units from every bucket of database. The returned
// Reservation must be committed once the operation is dispatched, or released
// if it never runs. A database without buckets is always admitted. When a
// bucket is exhausted the returned error is a RateExceeded error whose message
// contains "exceeded a limit".
func (l *Limiter) TryAdmit(ctx context.Context, database string, cost int64) (*Reservation, error) {
	if cost <= 0 {
		return nil, errors.Errorf(errors.ConfigurationInvalid, "invalid cost: %d (>0 required)", cost)
	}
	ctx, spanEnd := monitoring.StartSpan(ctx, "/hostel/quota/TryAdmit")
	defer spanEnd()

	t, err := l.store.Reserve(ctx, database, cost)
	switch {
	case errors.KindOf(err) == errors.RateExceeded:
		Metrics.IncRejected(database)
		klog.V(1).Infof("%s: schema operation rejected: %v", database, err)
		return nil, err
	case err != nil:
		Metrics.IncStoreError("reserve")
		return nil, fmt.Errorf("reserving schema operation quota of %s: %w", database, err)
	}
	Metrics.IncAdmitted(database)
	return &Reservation{store: l.store, ticket: t}, nil
}

// Configure atomically replaces the buckets of database. All bucket state is
// discarded and windows restart. An empty quotas removes all limits.
func (l *Limiter) Configure(ctx context.Context, database string, quotas []hostel.SchemaQuota) error {
	if err := ValidateQuotas(quotas); err != nil {
		return err
	}
	if err := l.store.Configure(ctx, database, quotas); err != nil {
		Metrics.IncStoreError("configure")
		return fmt.Errorf("configuring schema operation quotas of %s: %w", database, err)
	}
	klog.Infof("%s: schema operation quotas set to %v", database, quotas)
	return nil
}

// Peek returns the buckets of database as of now without consuming anything.
func (l *Limiter) Peek(ctx context.Context, database string) (BucketSet, error) {
	set, err := l.store.Peek(ctx, database)
	if err != nil {
		Metrics.IncStoreError("peek")
		return BucketSet{}, fmt.Errorf("reading schema operation quotas of %s: %w", database, err)
	}
	return set, nil
}

// Drop discards all bucket state of database.
func (l *Limiter) Drop(ctx context.Context, database string) error {
	if err := l.store.Drop(ctx, database); err != nil {
		Metrics.IncStoreError("drop")
		return fmt.Errorf("dropping schema operation quotas of %s: %w", database, err)
	}
	return nil
}

// ValidateQuotas returns a ConfigurationInvalid error if any of quotas cannot
// be enforced.
func ValidateQuotas(quotas []hostel.SchemaQuota) error {
	for i, q := range quotas {
		if err := q.Validate(); err != nil {
			return errors.Errorf(errors.ConfigurationInvalid, "schema quota #%d %v: %v", i, q, err)
		}
	}
	return nil
}

// Reservation holds units taken by TryAdmit until the operation is either
// dispatched (Commit) or abandoned (Release). Only the first of the two calls
// has any effect. A nil Reservation holds nothing.
type Reservation struct {
	store  Store
	ticket Ticket
	done   atomic.Bool
}

// Ticket returns what the reservation holds.
func (r *Reservation) Ticket() Ticket {
	return r.ticket
}

// Commit marks the operation as dispatched. The units stay consumed whatever
// the outcome of the operation.
func (r *Reservation) Commit() {
	if r == nil || !r.done.CompareAndSwap(false, true) {
		return
	}
	Metrics.IncCommitted(r.ticket.Database)
}

// Release returns the units of an operation that was never dispatched. Units
// are only returned to buckets whose window has not rolled over since the
// reservation, and only if the quotas were not replaced in the meantime.
func (r *Reservation) Release(ctx context.Context) error {
	if r == nil || !r.done.CompareAndSwap(false, true) {
		return nil
	}
	if len(r.ticket.WindowStarts) == 0 {
		Metrics.IncReleased(r.ticket.Database)
		return nil
	}
	if err := r.store.Release(ctx, r.ticket); err != nil {
		Metrics.IncStoreError("release")
		return fmt.Errorf("releasing schema operation quota of %s: %w", r.ticket.Database, err)
	}
	Metrics.IncReleased(r.ticket.Database)
	return nil
}
