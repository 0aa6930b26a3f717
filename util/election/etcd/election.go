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

// Package etcd provides an implementation of master election based on etcd.
package etcd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hostelcloud/hostel/util/election"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
	"k8s.io/klog/v2"
)

// Election is an implementation of election.Election based on etcd.
type Election struct {
	resourceID string
	instanceID string
	lockFile   string

	session  *concurrency.Session
	election *concurrency.Election
}

// Await blocks until the instance captures mastership.
func (e *Election) Await(ctx context.Context) error {
	return e.election.Campaign(ctx, e.instanceID)
}

// WithMastership returns a context which remains active until the instance
// stops being the master, or the passed in context is canceled.
func (e *Election) WithMastership(ctx context.Context) (context.Context, error) {
	cctx, cancel := context.WithCancel(ctx)
	ch := e.election.Observe(cctx)
	rev := e.election.Rev() // The revision at which e became the master.

	select {
	case <-ctx.Done():
		cancel()
		return nil, ctx.Err()
	case rsp, ok := <-ch:
		if !ok || len(rsp.Kvs) == 0 || rsp.Kvs[0].CreateRevision != rev {
			// Not the master, or overtaken in the meantime.
			cancel()
			return cctx, nil
		}
	}

	go func() {
		defer func() {
			cancel()
			klog.Infof("%s: canceled mastership context", e.resourceID)
		}()
		for rsp := range ch {
			if len(rsp.Kvs) == 0 || rsp.Kvs[0].CreateRevision != rev {
				if len(rsp.Kvs) > 0 {
					klog.Warningf("%s: mastership overtaken by %s", e.resourceID, rsp.Kvs[0].Value)
				}
				return
			}
		}
	}()
	return cctx, nil
}

// Resign releases mastership for this instance.
func (e *Election) Resign(ctx context.Context) error {
	return e.election.Resign(ctx)
}

// Close resigns and permanently stops participating in election.
func (e *Election) Close(ctx context.Context) error {
	if err := e.Resign(ctx); err != nil && !errors.Is(err, concurrency.ErrElectionNotLeader) {
		klog.Errorf("%s: Resign(): %v", e.resourceID, err)
	}
	// Closing the session revokes its lease, which removes the election keys
	// even if Resign failed.
	return e.session.Close()
}

// Factory creates Election instances.
type Factory struct {
	client     *clientv3.Client
	instanceID string
	lockDir    string
}

// NewFactory builds an election factory. client must remain valid for the
// lifetime of the factory.
func NewFactory(instanceID string, client *clientv3.Client, lockDir string) *Factory {
	return &Factory{client: client, instanceID: instanceID, lockDir: lockDir}
}

// NewElection implements election.Factory.
func (f *Factory) NewElection(ctx context.Context, resourceID string) (election.Election, error) {
	session, err := concurrency.NewSession(f.client, concurrency.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to create etcd session: %w", err)
	}
	lockFile := fmt.Sprintf("%s/%s", strings.TrimRight(f.lockDir, "/"), resourceID)
	e := &Election{
		resourceID: resourceID,
		instanceID: f.instanceID,
		lockFile:   lockFile,
		session:    session,
		election:   concurrency.NewElection(session, lockFile),
	}
	klog.Infof("Election created for %s at %s", resourceID, lockFile)
	return e, nil
}
