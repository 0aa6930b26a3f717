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

package etcdtopo

import (
	"flag"
	"fmt"

	"github.com/hostelcloud/hostel/catalog"
	"github.com/hostelcloud/hostel/discovery"
	"github.com/hostelcloud/hostel/util/etcd"
	"k8s.io/klog/v2"
)

// TopologyName identifies the etcd topology.
const TopologyName = "etcd"

var prefix = flag.String("etcd_topology_prefix", DefaultPrefix, "Prefix of the etcd keys keeping cluster endpoints")

func init() {
	if err := discovery.RegisterTopology(TopologyName, newEtcdTopology); err != nil {
		klog.Fatalf("Failed to register topology %v: %v", TopologyName, err)
	}
}

// NewFromFlags returns a Topology for the etcd flags.
func NewFromFlags() (*Topology, error) {
	client, err := etcd.SharedClient()
	if err != nil {
		return nil, fmt.Errorf("can't create etcd topology: %v", err)
	}
	return New(client, *prefix), nil
}

func newEtcdTopology(*catalog.Config) (discovery.Topology, error) {
	t, err := NewFromFlags()
	if err != nil {
		return nil, err
	}
	klog.Info("Using etcd topology")
	return t, nil
}
