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

// Package hostel provides the data model shared by the admission-control
// components of a serverless database hosted on a shared ("hostel") cluster.
package hostel

import (
	"fmt"
	"math"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Database is a logical database. Dedicated and hostel databases own a
// cluster topology; serverless databases are mounted on a hostel database and
// borrow its topology.
type Database struct {
	// Path identifies the database, e.g. "/Root/serverless-1".
	Path string

	// Cluster names the topology serving the database. Only set for databases
	// that are not serverless.
	Cluster string

	// Hostel is the path of the shared database a serverless database is
	// mounted on. Empty for dedicated and hostel databases.
	Hostel string

	// SchemaQuotas are the leaky buckets limiting schema operations. All of
	// them must have room for an operation to be admitted.
	SchemaQuotas []SchemaQuota

	// StorageQuota bounds the storage used by the database. Nil means unlimited.
	StorageQuota *StorageQuota

	// StorageBilling enables storage usage records for the database.
	StorageBilling bool
}

// Serverless reports whether d is mounted on a hostel database.
func (d *Database) Serverless() bool {
	return d.Hostel != ""
}

// Clone returns a deep copy of d.
func (d *Database) Clone() *Database {
	c := *d
	c.SchemaQuotas = append([]SchemaQuota(nil), d.SchemaQuotas...)
	if d.StorageQuota != nil {
		q := *d.StorageQuota
		c.StorageQuota = &q
	}
	return &c
}

// SchemaQuota is a fixed-window bucket admitting up to Capacity schema
// operations per Window.
type SchemaQuota struct {
	Capacity int64
	Window   time.Duration
}

// MaxWindowSeconds is the longest window a SchemaQuota can express.
const MaxWindowSeconds = math.MaxInt64 / int64(time.Second)

// NewSchemaQuota returns a SchemaQuota allowing capacity operations per
// windowSeconds. windowSeconds must not exceed MaxWindowSeconds; use
// ParseSchemaQuota for untrusted input.
func NewSchemaQuota(capacity, windowSeconds int64) SchemaQuota {
	return SchemaQuota{Capacity: capacity, Window: time.Duration(windowSeconds) * time.Second}
}

// ParseSchemaQuota is like NewSchemaQuota but validates its input, including
// windows too long to be represented.
func ParseSchemaQuota(capacity, windowSeconds int64) (SchemaQuota, error) {
	if windowSeconds > MaxWindowSeconds {
		return SchemaQuota{}, fmt.Errorf("window must be <= %d seconds, got %d", MaxWindowSeconds, windowSeconds)
	}
	q := NewSchemaQuota(capacity, windowSeconds)
	if err := q.Validate(); err != nil {
		return SchemaQuota{}, err
	}
	return q, nil
}

// Validate returns an error if q cannot be enforced.
func (q SchemaQuota) Validate() error {
	switch {
	case q.Capacity <= 0:
		return fmt.Errorf("capacity must be > 0, got %v", q.Capacity)
	case q.Window <= 0:
		return fmt.Errorf("window must be > 0, got %v", q.Window)
	}
	return nil
}

func (q SchemaQuota) String() string {
	return fmt.Sprintf("(%v,%v)", q.Capacity, q.Window)
}

// StorageQuota bounds the bytes a database may store.
type StorageQuota struct {
	LimitBytes int64
}

// AdmissionState controls whether writes are currently accepted.
type AdmissionState int32

const (
	// Normal allows writes.
	Normal AdmissionState = iota

	// Exceeded rejects writes. Reads and schema operations are unaffected.
	Exceeded
)

func (s AdmissionState) String() string {
	switch s {
	case Normal:
		return "NORMAL"
	case Exceeded:
		return "EXCEEDED"
	}
	return fmt.Sprintf("AdmissionState(%d)", int32(s))
}

// Endpoint is a network access point of a cluster.
type Endpoint struct {
	Host     string            `yaml:"host" json:"host"`
	Port     int               `yaml:"port" json:"port"`
	Metadata map[string]string `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}

// Addr returns the host:port form of e.
func (e Endpoint) Addr() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// key identifies e within a set, metadata included.
func (e Endpoint) key() string {
	keys := make([]string, 0, len(e.Metadata))
	for k := range e.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(e.Addr())
	for _, k := range keys {
		fmt.Fprintf(&b, ";%s=%s", k, e.Metadata[k])
	}
	return b.String()
}

// EndpointSet is an unordered collection of endpoints.
type EndpointSet struct {
	Endpoints []Endpoint `json:"endpoints"`
}

// Equal reports whether s and o contain the same members, in any order.
func (s EndpointSet) Equal(o EndpointSet) bool {
	if len(s.Endpoints) != len(o.Endpoints) {
		return false
	}
	count := make(map[string]int, len(s.Endpoints))
	for _, e := range s.Endpoints {
		count[e.key()]++
	}
	for _, e := range o.Endpoints {
		k := e.key()
		if count[k] == 0 {
			return false
		}
		count[k]--
	}
	return true
}

// Sorted returns a copy of s ordered by address, for stable output.
func (s EndpointSet) Sorted() EndpointSet {
	eps := append([]Endpoint(nil), s.Endpoints...)
	sort.Slice(eps, func(i, j int) bool { return eps[i].key() < eps[j].key() })
	return EndpointSet{Endpoints: eps}
}
