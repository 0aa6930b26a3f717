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

// Package discovery resolves the network endpoints of a database.
//
// Serverless databases have no nodes of their own: they are served by the
// cluster of the hostel database they are mounted on. Resolving a serverless
// database therefore yields exactly the endpoints of its hostel database.
package discovery

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/hostelcloud/hostel"
	"github.com/hostelcloud/hostel/catalog"
)

// Topology knows the endpoints of clusters.
type Topology interface {
	// Endpoints returns the current endpoints of cluster. An unknown cluster
	// has no endpoints.
	Endpoints(ctx context.Context, cluster string) (hostel.EndpointSet, error)
}

// NewTopologyFunc is the signature of a function which can be registered to
// provide a Topology. cfg is the loaded catalog file, if any.
type NewTopologyFunc func(cfg *catalog.Config) (Topology, error)

var (
	topoMu     sync.RWMutex
	topoByName = make(map[string]NewTopologyFunc)
)

// RegisterTopology registers a function that provides Topology instances.
func RegisterTopology(name string, f NewTopologyFunc) error {
	topoMu.Lock()
	defer topoMu.Unlock()
	if _, exists := topoByName[name]; exists {
		return fmt.Errorf("topology %v already registered", name)
	}
	topoByName[name] = f
	return nil
}

// Topologies returns the sorted names of the registered topologies.
func Topologies() []string {
	topoMu.RLock()
	defer topoMu.RUnlock()
	r := make([]string, 0, len(topoByName))
	for k := range topoByName {
		r = append(r, k)
	}
	sort.Strings(r)
	return r
}

// NewTopology returns the Topology registered under name.
func NewTopology(name string, cfg *catalog.Config) (Topology, error) {
	topoMu.RLock()
	f, ok := topoByName[name]
	topoMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown topology: %q, registered: %v", name, Topologies())
	}
	return f(cfg)
}
