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

// Package gate admits operations against logical databases.
//
// Schema operations are rate limited by the quota package. Data writes are
// rejected while the database is over its storage quota, as decided by the
// diskquota package. Reads are never gated. Admission decisions never wait:
// an operation is either admitted at once or rejected with an error the
// caller may retry later.
package gate

import (
	"context"

	"github.com/hostelcloud/hostel/catalog"
	"github.com/hostelcloud/hostel/diskquota"
	"github.com/hostelcloud/hostel/errors"
	"github.com/hostelcloud/hostel/monitoring"
	"github.com/hostelcloud/hostel/quota"
	"k8s.io/klog/v2"
)

// ExecFunc runs an admitted operation. It returns the net change in stored
// bytes the operation caused.
type ExecFunc func(ctx context.Context) (deltaBytes int64, err error)

// Gate enforces the schema operation and storage quotas of the databases in
// Catalog.
type Gate struct {
	Catalog *catalog.Catalog
	Limiter *quota.Limiter
	Tracker *diskquota.Tracker

	// DryRun controls whether quota breaches actually block operations. In
	// dry run mode breaches are logged and counted only.
	DryRun bool
}

func (g *Gate) checkDatabase(database string) error {
	if _, ok := g.Catalog.Get(database); !ok {
		incDenied(unknownDatabaseReason, database)
		return errors.NotFoundError(database)
	}
	return nil
}

// AdmitSchema reserves one schema operation of database. The caller must
// Commit the reservation when it dispatches the operation, or Release it if
// the operation never runs. op names the operation for logs and metrics.
func (g *Gate) AdmitSchema(ctx context.Context, database, op string) (*quota.Reservation, error) {
	incRequests(schemaLabel)
	if err := g.checkDatabase(database); err != nil {
		return nil, err
	}
	res, err := g.Limiter.TryAdmit(ctx, database, 1)
	if err == nil {
		return res, nil
	}
	if errors.KindOf(err) != errors.RateExceeded {
		return nil, err
	}
	if g.DryRun {
		incDryRun(schemaLabel)
		klog.Warningf("(DryRun) %s: schema operation %s not denied due to dry run mode: %v", database, op, err)
		return nil, nil
	}
	incDenied(rateExceededReason, database)
	return nil, err
}

// ExecuteSchema admits and runs the schema operation exec against database.
// The reservation is committed as soon as exec is dispatched, so a failing
// operation still counts against the quota. If ctx is done before dispatch the
// reservation is released. The storage delta of a successful operation is
// recorded.
func (g *Gate) ExecuteSchema(ctx context.Context, database, op string, exec ExecFunc) error {
	ctx, spanEnd := monitoring.StartSpan(ctx, "/hostel/gate/ExecuteSchema")
	defer spanEnd()

	res, err := g.AdmitSchema(ctx, database, op)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		if rerr := res.Release(context.WithoutCancel(ctx)); rerr != nil {
			klog.Warningf("%s: failed to release schema operation quota: %v", database, rerr)
		}
		return err
	}
	res.Commit()
	delta, err := exec(ctx)
	if err != nil {
		return err
	}
	g.RecordUsage(database, delta)
	return nil
}

// AdmitWrite decides whether a write of kind to database may run. Writes are
// rejected with a StorageExceeded error while the database is over its
// storage quota, whatever estimatedBytes is.
func (g *Gate) AdmitWrite(ctx context.Context, database string, kind diskquota.WriteKind, estimatedBytes int64) error {
	incRequests(kind.String())
	if err := g.checkDatabase(database); err != nil {
		return err
	}
	err := g.Tracker.TryAdmitWrite(database, kind, estimatedBytes)
	if err == nil {
		return nil
	}
	if g.DryRun {
		incDryRun(kind.String())
		klog.Warningf("(DryRun) %s: %v write of %d bytes not denied due to dry run mode: %v", database, kind, estimatedBytes, err)
		return nil
	}
	incDenied(storageExceededReason, database)
	return err
}

// ExecuteWrite admits and runs the write exec against database, recording
// its storage delta on success.
func (g *Gate) ExecuteWrite(ctx context.Context, database string, kind diskquota.WriteKind, estimatedBytes int64, exec ExecFunc) error {
	ctx, spanEnd := monitoring.StartSpan(ctx, "/hostel/gate/ExecuteWrite")
	defer spanEnd()

	if err := g.AdmitWrite(ctx, database, kind, estimatedBytes); err != nil {
		return err
	}
	delta, err := exec(ctx)
	if err != nil {
		return err
	}
	g.RecordUsage(database, delta)
	return nil
}

// RecordUsage feeds the storage delta of a completed operation back to the
// tracker. The new usage is considered at the next evaluation.
func (g *Gate) RecordUsage(database string, deltaBytes int64) {
	if deltaBytes == 0 {
		return
	}
	if err := g.Tracker.RecordUsageDelta(database, deltaBytes); err != nil {
		klog.Warningf("%s: failed to record usage delta of %d bytes: %v", database, deltaBytes, err)
	}
}
