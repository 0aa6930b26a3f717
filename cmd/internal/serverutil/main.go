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

// Package serverutil holds code for running hostel servers.
package serverutil

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/hostelcloud/hostel"
	"github.com/hostelcloud/hostel/discovery/etcdtopo"
	"github.com/hostelcloud/hostel/gate"
	"github.com/hostelcloud/hostel/monitoring"
	"github.com/hostelcloud/hostel/util/clock"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"k8s.io/klog/v2"

	grpc_middleware "github.com/grpc-ecosystem/go-grpc-middleware"
)

// Main encapsulates the data and logic to start a hostel gate.
type Main struct {
	// Endpoints for RPC and HTTP servers. HTTP is optional, if empty it'll
	// not be bound.
	RPCEndpoint, HTTPEndpoint string

	// TLS Certificate and Key files for the servers.
	TLSCertFile, TLSKeyFile string

	MetricFactory monitoring.MetricFactory
	StatsPrefix   string

	// Interceptor admits the RPCs of the database services registered by
	// RegisterServerFn. Optional.
	Interceptor *gate.Interceptor

	// RegisterServerFn is called to register RPC services. Optional.
	RegisterServerFn func(*grpc.Server) error

	// RegisterHandlerFn is called to register HTTP handlers. Optional.
	RegisterHandlerFn func(*http.ServeMux)

	// IsHealthy will be called whenever "/healthz" is called on the mux.
	// A nil return value from this function will result in a 200-OK response
	// on the /healthz endpoint.
	IsHealthy func(context.Context) error
	// HealthyDeadline is the maximum duration to wait for a successful
	// IsHealthy() call.
	HealthyDeadline time.Duration

	// These will be added to the GRPC server options.
	ExtraOptions []grpc.ServerOption
}

func (m *Main) healthz(rw http.ResponseWriter, req *http.Request) {
	if m.IsHealthy != nil {
		ctx, cancel := context.WithTimeout(req.Context(), m.HealthyDeadline)
		defer cancel()
		if err := m.IsHealthy(ctx); err != nil {
			rw.WriteHeader(http.StatusServiceUnavailable)
			rw.Write([]byte(err.Error()))
			return
		}
	}
	rw.Write([]byte("ok"))
}

// Run starts the configured servers. Blocks until ctx is done or a server
// fails.
func (m *Main) Run(ctx context.Context) error {
	klog.CopyStandardLogTo("WARNING")

	if m.HealthyDeadline == 0 {
		m.HealthyDeadline = 5 * time.Second
	}
	if m.MetricFactory == nil {
		m.MetricFactory = monitoring.InertMetricFactory{}
	}

	srv, err := m.newGRPCServer()
	if err != nil {
		return err
	}
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	if m.RegisterServerFn != nil {
		if err := m.RegisterServerFn(srv); err != nil {
			return err
		}
	}
	reflection.Register(srv)

	lis, err := net.Listen("tcp", m.RPCEndpoint)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		klog.Infof("RPC server starting on %v", lis.Addr())
		return srv.Serve(lis)
	})

	var httpSrv *http.Server
	if endpoint := m.HTTPEndpoint; endpoint != "" {
		mux := http.NewServeMux()
		if m.RegisterHandlerFn != nil {
			m.RegisterHandlerFn(mux)
		}
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", m.healthz)
		httpSrv = &http.Server{Addr: endpoint, Handler: mux}

		g.Go(func() error {
			klog.Infof("HTTP server starting on %v", endpoint)
			var err error
			// Let ListenAndServeTLS handle the error case when only one of the flags is set.
			if m.TLSCertFile != "" || m.TLSKeyFile != "" {
				err = httpSrv.ListenAndServeTLS(m.TLSCertFile, m.TLSKeyFile)
			} else {
				err = httpSrv.ListenAndServe()
			}
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		klog.Infof("Stopping servers: %v", context.Cause(ctx))
		hs.Shutdown()
		if httpSrv != nil {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := httpSrv.Shutdown(sctx); err != nil {
				klog.Warningf("HTTP server shutdown: %v", err)
			}
		}
		srv.GracefulStop()
		return nil
	})

	err = g.Wait()
	klog.Flush()
	return err
}

// newGRPCServer creates the gRPC server, with admission and stats
// interceptors.
func (m *Main) newGRPCServer() (*grpc.Server, error) {
	stats := monitoring.NewRPCStatsInterceptor(clock.System, m.StatsPrefix, m.MetricFactory)
	interceptors := []grpc.UnaryServerInterceptor{stats.Interceptor()}
	if m.Interceptor != nil {
		interceptors = append(interceptors, m.Interceptor.UnaryInterceptor)
	}

	serverOpts := []grpc.ServerOption{
		grpc.UnaryInterceptor(grpc_middleware.ChainUnaryServer(interceptors...)),
	}
	serverOpts = append(serverOpts, m.ExtraOptions...)

	// Let credentials.NewServerTLSFromFile handle the error case when only one of the flags is set.
	if m.TLSCertFile != "" || m.TLSKeyFile != "" {
		serverCreds, err := credentials.NewServerTLSFromFile(m.TLSCertFile, m.TLSKeyFile)
		if err != nil {
			return nil, err
		}
		serverOpts = append(serverOpts, grpc.Creds(serverCreds))
	}

	return grpc.NewServer(serverOpts...), nil
}

// AnnounceSelf announces the endpoint of this binary as a member of cluster
// in topo. Returns a function that should be called on process exit.
// AnnounceSelf does nothing if topo is nil.
func AnnounceSelf(ctx context.Context, topo *etcdtopo.Topology, cluster string, ep hostel.Endpoint) func() {
	if topo == nil {
		return func() {}
	}
	withdraw, err := topo.Announce(ctx, cluster, ep, 30*time.Second)
	if err != nil {
		klog.Exitf("Failed to announce %v in %s: %v", ep.Addr(), cluster, err)
	}
	klog.Infof("Announcing our presence in %s as %v", cluster, ep.Addr())
	return func() {
		klog.Infof("Removing our presence in %s", cluster)
		// The original context may have been canceled.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := withdraw(ctx); err != nil {
			klog.Warningf("Failed to withdraw %v from %s: %v", ep.Addr(), cluster, err)
		}
	}
}
