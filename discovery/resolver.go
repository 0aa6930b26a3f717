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

package discovery

import (
	"context"
	"sync"
	"time"

	"github.com/hostelcloud/hostel"
	"github.com/hostelcloud/hostel/catalog"
	"github.com/hostelcloud/hostel/monitoring"
	"golang.org/x/sync/singleflight"
	"k8s.io/klog/v2"
)

// topologyReadTimeout bounds a coalesced topology read, which no longer
// follows the deadline of the caller that started it.
const topologyReadTimeout = 10 * time.Second

var (
	metricsOnce sync.Once
	resolutions monitoring.Counter
)

// InitMetrics initializes the resolver metrics using mf. Only the first call
// has an effect.
func InitMetrics(mf monitoring.MetricFactory) {
	metricsOnce.Do(func() {
		resolutions = mf.NewCounter("discovery_resolutions", "Number of endpoint resolutions by outcome", "outcome")
	})
}

func incResolutions(outcome string) {
	if resolutions != nil {
		resolutions.Inc(outcome)
	}
}

// Resolver finds the endpoints of databases.
type Resolver struct {
	catalog  *catalog.Catalog
	topology Topology

	// group coalesces concurrent reads of the same cluster, which all
	// databases mounted on one hostel share.
	group singleflight.Group
}

// NewResolver returns a Resolver looking databases up in cat and clusters in
// topology.
func NewResolver(cat *catalog.Catalog, topology Topology) *Resolver {
	return &Resolver{catalog: cat, topology: topology}
}

// Resolve returns the endpoints serving database. The second result is false
// if the database is unknown, its cluster has no endpoints, or the topology
// could not be read; callers should retry later.
func (r *Resolver) Resolve(ctx context.Context, database string) (hostel.EndpointSet, bool) {
	ctx, spanEnd := monitoring.StartSpan(ctx, "/hostel/discovery/Resolve")
	defer spanEnd()

	cluster, ok := r.cluster(database)
	if !ok {
		incResolutions("unknown")
		return hostel.EndpointSet{}, false
	}
	v, err, shared := r.group.Do(cluster, func() (interface{}, error) {
		// The read is shared with other callers, so it must outlive the
		// cancellation of this one.
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), topologyReadTimeout)
		defer cancel()
		return r.topology.Endpoints(rctx, cluster)
	})
	if err != nil {
		incResolutions("error")
		klog.Warningf("%s: failed to read endpoints of cluster %q: %v", database, cluster, err)
		return hostel.EndpointSet{}, false
	}
	eps := v.(hostel.EndpointSet)
	if len(eps.Endpoints) == 0 {
		incResolutions("empty")
		return hostel.EndpointSet{}, false
	}
	incResolutions("ok")
	if shared {
		// Callers may modify the result.
		eps = hostel.EndpointSet{Endpoints: append([]hostel.Endpoint(nil), eps.Endpoints...)}
	}
	return eps, true
}

// cluster returns the cluster serving database.
func (r *Resolver) cluster(database string) (string, bool) {
	db, ok := r.catalog.Get(database)
	if !ok {
		return "", false
	}
	if db.Serverless() {
		if db, ok = r.catalog.Get(db.Hostel); !ok {
			return "", false
		}
	}
	return db.Cluster, db.Cluster != ""
}
