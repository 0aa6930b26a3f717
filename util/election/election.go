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

// Package election runs work that must happen on at most one instance at a
// time, such as emitting metering records.
//
// An instance is a single process taking part in the election for a
// resource. The instance owning the resource is its master. Mastership may
// race with the work it guards: for short periods two instances may believe
// they are the master.
package election

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"sort"
	"sync"
	"time"

	"k8s.io/klog/v2"
)

// Election controls the participation of an instance in the election of one
// resource. Implementations are not safe for concurrent use.
type Election interface {
	// Await blocks until the instance is the master, or ctx is done.
	// Returns at once if the instance is already the master.
	Await(ctx context.Context) error

	// WithMastership returns a context that stays active while the instance
	// is the master and ctx is not done. If the instance is not the master,
	// the returned context is already canceled.
	WithMastership(ctx context.Context) (context.Context, error)

	// Resign releases mastership. The instance can be elected again with
	// Await.
	Resign(ctx context.Context) error

	// Close resigns and stops taking part in the election. No other method
	// may be called after Close.
	Close(ctx context.Context) error
}

// Factory creates the Election of a resource.
type Factory interface {
	NewElection(ctx context.Context, resourceID string) (Election, error)
}

// NewFactoryFunc builds a Factory.
type NewFactoryFunc func() (Factory, error)

var (
	// System is the election implementation selected with --election_system.
	System = flag.String("election_system", LocalName, "Election system to use, e.g. local or etcd")

	providersMu sync.RWMutex
	providers   = make(map[string]NewFactoryFunc)
)

// RegisterProvider registers a Factory builder under name.
func RegisterProvider(name string, f NewFactoryFunc) error {
	providersMu.Lock()
	defer providersMu.Unlock()
	if _, exists := providers[name]; exists {
		return fmt.Errorf("election provider %v already registered", name)
	}
	providers[name] = f
	return nil
}

// Providers returns the names of the registered election implementations.
func Providers() []string {
	providersMu.RLock()
	defer providersMu.RUnlock()
	r := make([]string, 0, len(providers))
	for name := range providers {
		r = append(r, name)
	}
	sort.Strings(r)
	return r
}

// NewFactory builds the Factory registered under name.
func NewFactory(name string) (Factory, error) {
	providersMu.RLock()
	f, ok := providers[name]
	providersMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown election system %q, want one of %v", name, Providers())
	}
	return f()
}

// RunWhileMaster repeatedly waits for mastership of e and runs job with a
// context canceled when mastership is lost. It returns when ctx is done,
// after closing e. Errors of the election are retried after retryDelay; a job
// returning an error resigns mastership so that another instance can take
// over.
func RunWhileMaster(ctx context.Context, e Election, retryDelay time.Duration, job func(ctx context.Context) error) error {
	defer func() {
		// The original context may be done.
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), retryDelay)
		defer cancel()
		if err := e.Close(cctx); err != nil {
			klog.Warningf("Failed to close election: %v", err)
		}
	}()

	for {
		err := runOnce(ctx, e, job)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			klog.Errorf("Mastership term ended: %v", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryDelay):
		}
	}
}

var errMastershipLost = errors.New("mastership lost")

func runOnce(ctx context.Context, e Election, job func(ctx context.Context) error) error {
	if err := e.Await(ctx); err != nil {
		return fmt.Errorf("Await(): %w", err)
	}
	mctx, err := e.WithMastership(ctx)
	if err != nil {
		return fmt.Errorf("WithMastership(): %w", err)
	}
	klog.Info("Became master")
	err = job(mctx)
	if ctx.Err() != nil {
		return nil
	}
	if mctx.Err() != nil && err == nil {
		err = errMastershipLost
	}
	if rerr := e.Resign(ctx); rerr != nil {
		klog.Warningf("Resign(): %v", rerr)
	}
	return err
}
