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

// Package k8stopo reads cluster topology from Kubernetes EndpointSlices.
//
// A cluster is a Service of the same name; its endpoints are the ready
// addresses of the Service's EndpointSlices.
package k8stopo

import (
	"context"
	"fmt"

	"github.com/hostelcloud/hostel"
	discoveryv1 "k8s.io/api/discovery/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/client-go/kubernetes"
	"k8s.io/utils/ptr"
)

// Metadata keys set on the returned endpoints.
const (
	ZoneKey = "zone"
	NodeKey = "node"
)

// Topology is a discovery.Topology backed by the Kubernetes API.
type Topology struct {
	client    kubernetes.Interface
	namespace string
	portName  string
}

// New returns a Topology reading Services in namespace. Endpoints use the
// port named portName, or the first port of a slice if portName is empty.
func New(client kubernetes.Interface, namespace, portName string) *Topology {
	return &Topology{client: client, namespace: namespace, portName: portName}
}

// Endpoints implements discovery.Topology. Endpoints that are not ready are
// left out.
func (t *Topology) Endpoints(ctx context.Context, cluster string) (hostel.EndpointSet, error) {
	selector := labels.SelectorFromSet(labels.Set{discoveryv1.LabelServiceName: cluster})
	slices, err := t.client.DiscoveryV1().EndpointSlices(t.namespace).List(ctx, metav1.ListOptions{LabelSelector: selector.String()})
	if err != nil {
		return hostel.EndpointSet{}, fmt.Errorf("failed to list EndpointSlices of %s/%s: %w", t.namespace, cluster, err)
	}

	var r hostel.EndpointSet
	seen := make(map[string]bool)
	for _, slice := range slices.Items {
		port, ok := t.port(slice.Ports)
		if !ok {
			continue
		}
		for _, ep := range slice.Endpoints {
			// A nil condition means ready.
			if !ptr.Deref(ep.Conditions.Ready, true) {
				continue
			}
			md := make(map[string]string)
			if ep.Zone != nil {
				md[ZoneKey] = *ep.Zone
			}
			if ep.NodeName != nil {
				md[NodeKey] = *ep.NodeName
			}
			if len(md) == 0 {
				md = nil
			}
			for _, addr := range ep.Addresses {
				e := hostel.Endpoint{Host: addr, Port: port, Metadata: md}
				// The same address may show up in two slices while they are
				// being rebalanced.
				if seen[e.Addr()] {
					continue
				}
				seen[e.Addr()] = true
				r.Endpoints = append(r.Endpoints, e)
			}
		}
	}
	return r, nil
}

func (t *Topology) port(ports []discoveryv1.EndpointPort) (int, bool) {
	for _, p := range ports {
		if p.Port == nil {
			continue
		}
		if t.portName == "" || ptr.Deref(p.Name, "") == t.portName {
			return int(*p.Port), true
		}
	}
	return 0, false
}
