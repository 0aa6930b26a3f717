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

// Package admin implements the administration of logical databases: their
// provisioning and the configuration of their quotas and billing.
package admin

import (
	"context"

	"github.com/hostelcloud/hostel"
	"github.com/hostelcloud/hostel/catalog"
	"github.com/hostelcloud/hostel/diskquota"
	"github.com/hostelcloud/hostel/errors"
	"github.com/hostelcloud/hostel/metering"
	"github.com/hostelcloud/hostel/quota"
	"github.com/hostelcloud/hostel/util/clock"
	"k8s.io/klog/v2"
)

// Server keeps the catalog, the schema operation limiter and the storage
// tracker consistent with each other.
type Server struct {
	Catalog    *catalog.Catalog
	Limiter    *quota.Limiter
	Tracker    *diskquota.Tracker
	TimeSource clock.TimeSource

	// Optional.
	Evaluator *diskquota.Evaluator
	Emitter   metering.Emitter
	Reporter  *metering.Reporter
}

// Status is the admission state of a database.
type Status struct {
	Database *hostel.Database

	// Buckets holds the schema operation buckets as of now.
	Buckets quota.BucketSet

	// Storage is the storage accounting of the database.
	Storage diskquota.Usage
}

// LoadConfig creates the databases of cfg.
func (s *Server) LoadConfig(ctx context.Context, cfg *catalog.Config) error {
	for _, d := range cfg.InOrder() {
		if _, err := s.CreateDatabase(ctx, d); err != nil {
			return err
		}
	}
	klog.Infof("Loaded %d databases", len(cfg.Databases))
	return nil
}

// CreateDatabase provisions d.
func (s *Server) CreateDatabase(ctx context.Context, d *hostel.Database) (*hostel.Database, error) {
	// Quota state is set up under the catalog lock, so a concurrent drop of
	// the same path cannot tear it down after the fact.
	err := s.Catalog.CreateFunc(d, func(d *hostel.Database) error {
		if err := s.Limiter.Configure(ctx, d.Path, d.SchemaQuotas); err != nil {
			return err
		}
		s.Tracker.Register(d.Path, storageLimit(d))
		return nil
	})
	if err != nil {
		return nil, err
	}
	klog.Infof("%s: created (cluster %q, hostel %q)", d.Path, d.Cluster, d.Hostel)
	return d.Clone(), nil
}

// GetDatabase returns the database at path.
func (s *Server) GetDatabase(ctx context.Context, path string) (*hostel.Database, error) {
	d, ok := s.Catalog.Get(path)
	if !ok {
		return nil, errors.NotFoundError(path)
	}
	return d, nil
}

// ListDatabases returns the databases whose path starts with prefix.
func (s *Server) ListDatabases(ctx context.Context, prefix string) []*hostel.Database {
	return s.Catalog.List(prefix)
}

// DeleteDatabase drops the database at path with all its quota state.
func (s *Server) DeleteDatabase(ctx context.Context, path string) error {
	err := s.Catalog.DeleteFunc(path, func(*hostel.Database) error {
		s.Tracker.Unregister(path)
		if err := s.Limiter.Drop(ctx, path); err != nil {
			// The next Configure of a database at this path replaces the buckets.
			klog.Warningf("%s: failed to drop schema quota state: %v", path, err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	klog.Infof("%s: deleted", path)
	return nil
}

// AlterSchemaQuotas replaces the schema operation quotas of the database at
// path. Bucket state is reset.
func (s *Server) AlterSchemaQuotas(ctx context.Context, path string, quotas []hostel.SchemaQuota) (*hostel.Database, error) {
	if err := quota.ValidateQuotas(quotas); err != nil {
		return nil, err
	}
	return s.Catalog.Update(path, func(d *hostel.Database) error {
		d.SchemaQuotas = append([]hostel.SchemaQuota(nil), quotas...)
		return s.Limiter.Configure(ctx, path, quotas)
	})
}

// SetStorageQuota sets the storage limit of the database at path. A limit of
// zero removes it. The change takes effect at the next evaluation, which is
// requested at once.
func (s *Server) SetStorageQuota(ctx context.Context, path string, limitBytes int64) (*hostel.Database, error) {
	if limitBytes < 0 {
		return nil, errors.Errorf(errors.ConfigurationInvalid, "storage quota must be >= 0, got %d", limitBytes)
	}
	d, err := s.Catalog.Update(path, func(d *hostel.Database) error {
		d.StorageQuota = nil
		if limitBytes > 0 {
			d.StorageQuota = &hostel.StorageQuota{LimitBytes: limitBytes}
		}
		return s.Tracker.SetQuota(path, limitBytes)
	})
	if err != nil {
		return nil, err
	}
	if s.Evaluator != nil {
		s.Evaluator.Trigger()
	}
	klog.Infof("%s: storage quota set to %d bytes", path, limitBytes)
	return d, nil
}

// SetStorageBilling switches storage billing of the database at path. Every
// change is announced with a metering record.
func (s *Server) SetStorageBilling(ctx context.Context, path string, enabled bool) (*hostel.Database, error) {
	changed := false
	d, err := s.Catalog.Update(path, func(d *hostel.Database) error {
		changed = d.StorageBilling != enabled
		d.StorageBilling = enabled
		return nil
	})
	if err != nil || !changed {
		return d, err
	}
	klog.Infof("%s: storage billing enabled = %v", path, enabled)
	if s.Emitter != nil {
		var usage int64
		if u, err := s.Tracker.Usage(path); err == nil {
			usage = u.Bytes
		}
		rec := metering.NewBillingToggleRecord(d, enabled, usage, s.TimeSource.Now())
		if err := s.Emitter.Emit(ctx, rec); err != nil {
			return d, errors.Wrap(errors.Unknown, err, "storage billing of %s changed but the metering record was not emitted: %v", path, err)
		}
	}
	if enabled && s.Reporter != nil {
		s.Reporter.Trigger()
	}
	return d, nil
}

// Status returns the admission state of the database at path.
func (s *Server) Status(ctx context.Context, path string) (*Status, error) {
	d, ok := s.Catalog.Get(path)
	if !ok {
		return nil, errors.NotFoundError(path)
	}
	buckets, err := s.Limiter.Peek(ctx, path)
	if err != nil {
		return nil, err
	}
	usage, err := s.Tracker.Usage(path)
	if err != nil {
		return nil, err
	}
	return &Status{Database: d, Buckets: buckets, Storage: usage}, nil
}

func storageLimit(d *hostel.Database) int64 {
	if d.StorageQuota == nil {
		return 0
	}
	return d.StorageQuota.LimitBytes
}
