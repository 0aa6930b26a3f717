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

// Package etcdtopo keeps cluster topology in etcd.
//
// Every cluster is an etcd naming target under a common prefix. Nodes
// announce themselves with a lease, so endpoints of nodes that stop
// refreshing it disappear once the lease expires.
package etcdtopo

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/hostelcloud/hostel"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/naming/endpoints"
	"k8s.io/klog/v2"
)

// DefaultPrefix is the default prefix of the topology keys.
const DefaultPrefix = "hostel/topology"

// Topology is a discovery.Topology backed by etcd.
type Topology struct {
	client *clientv3.Client
	prefix string
}

// New returns a Topology keeping clusters under prefix.
func New(client *clientv3.Client, prefix string) *Topology {
	return &Topology{client: client, prefix: strings.TrimRight(prefix, "/")}
}

// target is the naming target of cluster. The endpoints manager lists keys
// under target plus "/", which keeps a cluster apart from clusters sharing
// its name as a prefix.
func (t *Topology) target(cluster string) string {
	return fmt.Sprintf("%s/%s", t.prefix, cluster)
}

func (t *Topology) manager(cluster string) (endpoints.Manager, error) {
	return endpoints.NewManager(t.client, t.target(cluster))
}

// Endpoints implements discovery.Topology.
func (t *Topology) Endpoints(ctx context.Context, cluster string) (hostel.EndpointSet, error) {
	em, err := t.manager(cluster)
	if err != nil {
		return hostel.EndpointSet{}, err
	}
	listed, err := em.List(ctx)
	if err != nil {
		return hostel.EndpointSet{}, fmt.Errorf("failed to list endpoints of %s: %w", cluster, err)
	}
	var r hostel.EndpointSet
	for key, e := range listed {
		ep, err := fromNaming(e)
		if err != nil {
			klog.Warningf("Ignoring malformed endpoint %s: %v", key, err)
			continue
		}
		r.Endpoints = append(r.Endpoints, ep)
	}
	return r, nil
}

// Announce registers ep as an endpoint of cluster for as long as the returned
// withdraw function is not called and this process keeps its lease alive. ttl
// is rounded up to whole seconds.
func (t *Topology) Announce(ctx context.Context, cluster string, ep hostel.Endpoint, ttl time.Duration) (withdraw func(context.Context) error, err error) {
	em, err := t.manager(cluster)
	if err != nil {
		return nil, err
	}
	seconds := int64((ttl + time.Second - 1) / time.Second)
	lease, err := t.client.Grant(ctx, seconds)
	if err != nil {
		return nil, fmt.Errorf("failed to grant lease: %w", err)
	}
	key := t.target(cluster) + "/" + ep.Addr()
	if err := em.AddEndpoint(ctx, key, toNaming(ep), clientv3.WithLease(lease.ID)); err != nil {
		return nil, fmt.Errorf("failed to add endpoint %s: %w", key, err)
	}

	kaCtx, cancel := context.WithCancel(context.Background())
	ka, err := t.client.KeepAlive(kaCtx, lease.ID)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to keep lease alive: %w", err)
	}
	go func() {
		for range ka {
		}
		klog.V(1).Infof("%s: stopped refreshing lease %x", key, lease.ID)
	}()
	klog.Infof("Announced %s as an endpoint of %s", ep.Addr(), cluster)

	return func(ctx context.Context) error {
		cancel()
		// Revoking the lease deletes the endpoint key.
		if _, err := t.client.Revoke(ctx, lease.ID); err != nil {
			return fmt.Errorf("failed to revoke lease of %s: %w", key, err)
		}
		return nil
	}, nil
}

func toNaming(ep hostel.Endpoint) endpoints.Endpoint {
	e := endpoints.Endpoint{Addr: ep.Addr()}
	if len(ep.Metadata) > 0 {
		e.Metadata = ep.Metadata
	}
	return e
}

func fromNaming(e endpoints.Endpoint) (hostel.Endpoint, error) {
	host, port, err := net.SplitHostPort(e.Addr)
	if err != nil {
		return hostel.Endpoint{}, err
	}
	p, err := strconv.Atoi(port)
	if err != nil {
		return hostel.Endpoint{}, fmt.Errorf("bad port in %q: %v", e.Addr, err)
	}
	ep := hostel.Endpoint{Host: host, Port: p}
	// Metadata is stored as JSON, so it comes back as a generic map.
	if md, ok := e.Metadata.(map[string]interface{}); ok && len(md) > 0 {
		ep.Metadata = make(map[string]string, len(md))
		for k, v := range md {
			ep.Metadata[k] = fmt.Sprint(v)
		}
	}
	return ep, nil
}
