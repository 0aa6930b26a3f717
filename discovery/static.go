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

	"github.com/hostelcloud/hostel"
	"github.com/hostelcloud/hostel/catalog"
	"k8s.io/klog/v2"
)

// StaticTopologyName identifies the configured topology.
const StaticTopologyName = "static"

func init() {
	if err := RegisterTopology(StaticTopologyName, func(cfg *catalog.Config) (Topology, error) {
		s := NewStaticTopology()
		if cfg != nil {
			for cluster, eps := range cfg.Clusters {
				s.Set(cluster, hostel.EndpointSet{Endpoints: eps})
			}
		}
		return s, nil
	}); err != nil {
		klog.Fatalf("Failed to register topology %v: %v", StaticTopologyName, err)
	}
}

// StaticTopology is a Topology whose endpoints are set explicitly.
type StaticTopology struct {
	mu       sync.RWMutex
	clusters map[string]hostel.EndpointSet
}

// NewStaticTopology returns a StaticTopology without clusters.
func NewStaticTopology() *StaticTopology {
	return &StaticTopology{clusters: make(map[string]hostel.EndpointSet)}
}

// Set replaces the endpoints of cluster.
func (s *StaticTopology) Set(cluster string, eps hostel.EndpointSet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clusters[cluster] = hostel.EndpointSet{Endpoints: append([]hostel.Endpoint(nil), eps.Endpoints...)}
}

// Endpoints implements Topology.
func (s *StaticTopology) Endpoints(_ context.Context, cluster string) (hostel.EndpointSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	eps := s.clusters[cluster]
	return hostel.EndpointSet{Endpoints: append([]hostel.Endpoint(nil), eps.Endpoints...)}, nil
}
