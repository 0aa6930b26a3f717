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

package election

import (
	"context"
	"sync"

	"k8s.io/klog/v2"
)

// LocalName identifies the in-process election, for deployments running a
// single instance.
const LocalName = "local"

func init() {
	if err := RegisterProvider(LocalName, func() (Factory, error) { return NewLocalFactory(), nil }); err != nil {
		klog.Fatalf("Failed to register election implementation %v: %v", LocalName, err)
	}
}

// LocalFactory creates elections among the instances of one process.
type LocalFactory struct {
	mu      sync.Mutex
	masters map[string]*localResource
}

// NewLocalFactory returns an empty LocalFactory.
func NewLocalFactory() *LocalFactory {
	return &LocalFactory{masters: make(map[string]*localResource)}
}

type localResource struct {
	// token holds one element while the resource has no master.
	token chan struct{}
}

// NewElection implements Factory.
func (f *LocalFactory) NewElection(ctx context.Context, resourceID string) (Election, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.masters[resourceID]
	if !ok {
		r = &localResource{token: make(chan struct{}, 1)}
		r.token <- struct{}{}
		f.masters[resourceID] = r
	}
	return &localElection{res: r}, nil
}

type localElection struct {
	res    *localResource
	master bool
	// lost is closed when the current term ends.
	lost chan struct{}
}

func (e *localElection) Await(ctx context.Context) error {
	if e.master {
		return nil
	}
	select {
	case <-e.res.token:
		e.master = true
		e.lost = make(chan struct{})
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *localElection) WithMastership(ctx context.Context) (context.Context, error) {
	cctx, cancel := context.WithCancel(ctx)
	if !e.master {
		cancel()
		return cctx, nil
	}
	lost := e.lost
	go func() {
		defer cancel()
		select {
		case <-lost:
		case <-cctx.Done():
		}
	}()
	return cctx, nil
}

func (e *localElection) Resign(ctx context.Context) error {
	if !e.master {
		return nil
	}
	e.master = false
	close(e.lost)
	e.res.token <- struct{}{}
	return nil
}

func (e *localElection) Close(ctx context.Context) error {
	return e.Resign(ctx)
}
