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

// Package provider links the quota stores, usage sources, topologies and
// election systems into the binaries, and picks their defaults.
package provider

import (
	"slices"

	"github.com/hostelcloud/hostel/discovery"
	"github.com/hostelcloud/hostel/diskquota"
	"github.com/hostelcloud/hostel/quota"

	_ "github.com/hostelcloud/hostel/discovery/etcdtopo"
	_ "github.com/hostelcloud/hostel/discovery/k8stopo"
	_ "github.com/hostelcloud/hostel/quota/etcdqs"
	_ "github.com/hostelcloud/hostel/quota/redisqs"
	_ "github.com/hostelcloud/hostel/util/election/etcd"
)

var (
	DefaultQuotaStore  string
	DefaultUsageSource string
	DefaultTopology    string
)

// pick returns want if it is one of providers, or else the first provider in
// alphabetical order.
func pick(want string, providers []string) string {
	if len(providers) == 0 || slices.Contains(providers, want) {
		return want
	}
	slices.Sort(providers)
	return providers[0]
}

func init() {
	DefaultQuotaStore = pick(quota.MemoryStoreName, quota.Stores())
	DefaultUsageSource = pick(diskquota.MemorySourceName, diskquota.Sources())
	DefaultTopology = pick(discovery.StaticTopologyName, discovery.Topologies())
}
