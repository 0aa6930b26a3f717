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

// Package catalog is the registry of logical databases.
//
// Lookups read an immutable snapshot and never lock. Changes are serialized,
// applied to a private copy-on-write clone of the index and then published.
package catalog

import (
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/btree"
	"github.com/hostelcloud/hostel"
	"github.com/hostelcloud/hostel/errors"
)

const degree = 8

func less(a, b *hostel.Database) bool {
	return a.Path < b.Path
}

// Catalog indexes databases by path.
type Catalog struct {
	// mu serializes writers; work is only touched with mu held.
	mu   sync.Mutex
	work *btree.BTreeG[*hostel.Database]

	snap atomic.Pointer[btree.BTreeG[*hostel.Database]]
}

// New returns an empty Catalog.
func New() *Catalog {
	c := &Catalog{work: btree.NewG(degree, less)}
	c.snap.Store(c.work.Clone())
	return c
}

// publishLocked makes the state of c.work visible to readers.
func (c *Catalog) publishLocked() {
	c.snap.Store(c.work.Clone())
}

func key(path string) *hostel.Database {
	return &hostel.Database{Path: path}
}

// Get returns a copy of the database at path.
func (c *Catalog) Get(path string) (*hostel.Database, bool) {
	d, ok := c.snap.Load().Get(key(path))
	if !ok {
		return nil, false
	}
	return d.Clone(), true
}

// Len returns the number of databases.
func (c *Catalog) Len() int {
	return c.snap.Load().Len()
}

// List returns copies of all databases whose path starts with prefix, in path
// order.
func (c *Catalog) List(prefix string) []*hostel.Database {
	var r []*hostel.Database
	c.snap.Load().AscendGreaterOrEqual(key(prefix), func(d *hostel.Database) bool {
		if !strings.HasPrefix(d.Path, prefix) {
			return false
		}
		r = append(r, d.Clone())
		return true
	})
	return r
}

// Mounted returns the paths of the serverless databases mounted on the hostel
// database at path.
func (c *Catalog) Mounted(path string) []string {
	var r []string
	c.snap.Load().Ascend(func(d *hostel.Database) bool {
		if d.Hostel == path {
			r = append(r, d.Path)
		}
		return true
	})
	return r
}

// Create adds d. The hostel of a serverless database must already exist and
// must not itself be serverless.
func (c *Catalog) Create(d *hostel.Database) error {
	return c.CreateFunc(d, nil)
}

// CreateFunc is like Create but first runs f, if not nil, while holding the
// catalog lock. d is only added if f succeeds, and no other change to the
// catalog can interleave with f.
func (c *Catalog) CreateFunc(d *hostel.Database, f func(*hostel.Database) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.work.Get(key(d.Path)); ok {
		return errors.Errorf(errors.ConfigurationInvalid, "database %q already exists", d.Path)
	}
	if err := c.validateLocked(d); err != nil {
		return err
	}
	if f != nil {
		if err := f(d.Clone()); err != nil {
			return err
		}
	}
	c.work.ReplaceOrInsert(d.Clone())
	c.publishLocked()
	return nil
}

// Update applies f to a copy of the database at path and stores the result if
// f succeeds and the result is valid. The path of the database cannot change.
func (c *Catalog) Update(path string, f func(*hostel.Database) error) (*hostel.Database, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cur, ok := c.work.Get(key(path))
	if !ok {
		return nil, errors.NotFoundError(path)
	}
	d := cur.Clone()
	if err := f(d); err != nil {
		return nil, err
	}
	if d.Path != path {
		return nil, errors.Errorf(errors.ConfigurationInvalid, "database path cannot change (%q -> %q)", path, d.Path)
	}
	if err := c.validateLocked(d); err != nil {
		return nil, err
	}
	c.work.ReplaceOrInsert(d)
	c.publishLocked()
	return d.Clone(), nil
}

// Delete removes the database at path. A hostel database cannot be deleted
// while serverless databases are mounted on it.
func (c *Catalog) Delete(path string) error {
	return c.DeleteFunc(path, nil)
}

// DeleteFunc is like Delete but first runs f, if not nil, on the database
// while holding the catalog lock. The database is only removed if f
// succeeds.
func (c *Catalog) DeleteFunc(path string, f func(*hostel.Database) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cur, ok := c.work.Get(key(path))
	if !ok {
		return errors.NotFoundError(path)
	}
	var mounted []string
	c.work.Ascend(func(d *hostel.Database) bool {
		if d.Hostel == path {
			mounted = append(mounted, d.Path)
		}
		return true
	})
	if len(mounted) > 0 {
		return errors.Errorf(errors.ConfigurationInvalid, "database %q still hosts %v", path, mounted)
	}
	if f != nil {
		if err := f(cur.Clone()); err != nil {
			return err
		}
	}
	c.work.Delete(key(path))
	c.publishLocked()
	return nil
}

func (c *Catalog) validateLocked(d *hostel.Database) error {
	if !strings.HasPrefix(d.Path, "/") || strings.HasSuffix(d.Path, "/") {
		return errors.Errorf(errors.ConfigurationInvalid, "database path %q must start and not end with /", d.Path)
	}
	for _, q := range d.SchemaQuotas {
		if err := q.Validate(); err != nil {
			return errors.Wrap(errors.ConfigurationInvalid, err, "%s: invalid schema quota %v: %v", d.Path, q, err)
		}
	}
	if d.StorageQuota != nil && d.StorageQuota.LimitBytes < 0 {
		return errors.Errorf(errors.ConfigurationInvalid, "%s: storage quota must be >= 0, got %d", d.Path, d.StorageQuota.LimitBytes)
	}
	if !d.Serverless() {
		if d.Cluster == "" {
			return errors.Errorf(errors.ConfigurationInvalid, "%s: a database that is not serverless needs a cluster", d.Path)
		}
		return nil
	}
	if d.Cluster != "" {
		return errors.Errorf(errors.ConfigurationInvalid, "%s: a serverless database borrows the cluster of %s and cannot name its own", d.Path, d.Hostel)
	}
	h, ok := c.work.Get(key(d.Hostel))
	switch {
	case !ok:
		return errors.Errorf(errors.ConfigurationInvalid, "%s: hostel database %q does not exist", d.Path, d.Hostel)
	case h.Serverless():
		return errors.Errorf(errors.ConfigurationInvalid, "%s: %q is serverless and cannot host databases", d.Path, d.Hostel)
	}
	return nil
}
