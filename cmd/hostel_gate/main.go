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

// The hostel_gate binary runs admission control for the databases of a
// serverless deployment: schema operation rate limits, storage quotas,
// metering and endpoint discovery.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/hostelcloud/hostel"
	"github.com/hostelcloud/hostel/catalog"
	"github.com/hostelcloud/hostel/cmd"
	"github.com/hostelcloud/hostel/cmd/internal/provider"
	"github.com/hostelcloud/hostel/cmd/internal/serverutil"
	"github.com/hostelcloud/hostel/discovery"
	"github.com/hostelcloud/hostel/discovery/etcdtopo"
	"github.com/hostelcloud/hostel/diskquota"
	"github.com/hostelcloud/hostel/gate"
	"github.com/hostelcloud/hostel/metering"
	"github.com/hostelcloud/hostel/monitoring"
	"github.com/hostelcloud/hostel/monitoring/opencensus"
	"github.com/hostelcloud/hostel/monitoring/prometheus"
	"github.com/hostelcloud/hostel/quota"
	"github.com/hostelcloud/hostel/server"
	"github.com/hostelcloud/hostel/server/admin"
	"github.com/hostelcloud/hostel/util"
	"github.com/hostelcloud/hostel/util/clock"
	"github.com/hostelcloud/hostel/util/election"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"k8s.io/klog/v2"
)

var (
	rpcEndpoint    = flag.String("rpc_endpoint", "localhost:8090", "Endpoint for RPC requests (host:port)")
	httpEndpoint   = flag.String("http_endpoint", "localhost:8091", "Endpoint for HTTP requests (host:port, empty means disabled)")
	tlsCertFile    = flag.String("tls_cert_file", "", "Path to the TLS server certificate. If unset, the server will use unsecured connections.")
	tlsKeyFile     = flag.String("tls_key_file", "", "Path to the TLS server key. If unset, the server will use unsecured connections.")
	healthzTimeout = flag.Duration("healthz_timeout", time.Second*5, "Timeout used during healthz checks")

	catalogFile  = flag.String("catalog_file", "", "YAML file describing the databases, their quotas and the static cluster topology")
	quotaStore   = flag.String("quota_store", provider.DefaultQuotaStore, fmt.Sprintf("Schema quota bucket store to use. One of: %v", quota.Stores()))
	usageSource  = flag.String("usage_source", provider.DefaultUsageSource, fmt.Sprintf("Storage usage source to use. One of: %v", diskquota.Sources()))
	topology     = flag.String("topology", provider.DefaultTopology, fmt.Sprintf("Cluster topology to use. One of: %v", discovery.Topologies()))
	gatedMethods = flag.String("gated_methods", "", "Comma-separated /service/method=kind pairs of RPCs to admit, kind being one of schema, dml or bulk")
	dryRun       = flag.Bool("dry_run", false, "If true, quota breaches are logged but operations are not rejected")

	evalInterval    = flag.Duration("disk_quota_eval_interval", time.Second, "Interval between storage quota evaluations; also the time usage must stay below the limit before writes resume")
	evalParallelism = flag.Int("disk_quota_eval_parallelism", 8, "Number of databases measured concurrently")

	meteringFile     = flag.String("metering_file", "", "File metering records are appended to (empty means disabled)")
	meteringInterval = flag.Duration("metering_interval", time.Minute, "Interval between storage usage records")
	electionRetry    = flag.Duration("election_retry_delay", 5*time.Second, "Pause before campaigning again for the metering mastership")

	announceCluster = flag.String("announce_cluster", "", "If set, announce the RPC endpoint of this gate as a member of this cluster in etcd")

	tracing        = flag.Bool("tracing", false, "If true, export traces and gRPC views to Stackdriver")
	tracingProject = flag.String("tracing_project_id", "", "The project ID traces are exported to")
	tracingPercent = flag.Int("tracing_percent", 0, "Percent of requests to be traced")
	configFile     = flag.String("config", "", "Config file containing flags, file contents can be overridden by command line flags")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	defer klog.Flush()

	if *configFile != "" {
		if err := cmd.ParseFlagFile(*configFile); err != nil {
			klog.Exitf("Failed to load flags from config file %q: %s", *configFile, err)
		}
	}
	klog.CopyStandardLogTo("WARNING")
	klog.Info("**** Hostel Gate Starting ****")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go util.AwaitSignal(ctx, cancel)

	if err := run(ctx); err != nil && err != context.Canceled {
		klog.Exitf("Gate terminated: %v", err)
	}
	klog.Info("**** Hostel Gate Stopped ****")
}

func run(ctx context.Context) error {
	mf := prometheus.MetricFactory{}
	quota.InitMetrics(mf)
	diskquota.InitMetrics(mf)
	gate.InitMetrics(mf)
	discovery.InitMetrics(mf)
	metering.InitMetrics(mf)

	var grpcOpts []grpc.ServerOption
	if *tracing {
		opts, err := opencensus.EnableRPCServerTracing(*tracingProject, *tracingPercent)
		if err != nil {
			return fmt.Errorf("failed to enable tracing: %w", err)
		}
		grpcOpts = append(grpcOpts, opts...)
	}

	cfg := &catalog.Config{}
	if *catalogFile != "" {
		var err error
		if cfg, err = catalog.LoadConfig(*catalogFile); err != nil {
			return err
		}
	}

	store, err := quota.NewStore(*quotaStore, clock.System)
	if err != nil {
		return fmt.Errorf("failed to create quota store: %w", err)
	}
	source, err := diskquota.NewSource(*usageSource)
	if err != nil {
		return fmt.Errorf("failed to create usage source: %w", err)
	}
	topo, err := discovery.NewTopology(*topology, cfg)
	if err != nil {
		return fmt.Errorf("failed to create topology: %w", err)
	}
	methods, err := gate.ParseMethodKinds(*gatedMethods)
	if err != nil {
		return err
	}

	cat := catalog.New()
	limiter := quota.NewLimiter(store)
	tracker := diskquota.NewTracker(*evalInterval, nil)
	evaluator := diskquota.NewEvaluator(tracker, source, clock.System, *evalParallelism)

	adm := &admin.Server{
		Catalog:    cat,
		Limiter:    limiter,
		Tracker:    tracker,
		TimeSource: clock.System,
		Evaluator:  evaluator,
	}
	var reporter *metering.Reporter
	if *meteringFile != "" {
		w, err := metering.OpenFile(*meteringFile)
		if err != nil {
			return err
		}
		defer w.Close()
		reporter = metering.NewReporter(cat, tracker, w, clock.System, *meteringInterval)
		adm.Emitter = w
		adm.Reporter = reporter
	}
	if err := adm.LoadConfig(ctx, cfg); err != nil {
		return fmt.Errorf("failed to load catalog: %w", err)
	}

	g := &gate.Gate{Catalog: cat, Limiter: limiter, Tracker: tracker, DryRun: *dryRun}
	api := &server.API{
		Admin:    adm,
		Gate:     g,
		Resolver: discovery.NewResolver(cat, topo),
		Monitor:  monitoring.NewHTTPRequestMonitor(clock.System, "gate", mf),
	}

	if *announceCluster != "" {
		et, err := etcdtopo.NewFromFlags()
		if err != nil {
			return fmt.Errorf("failed to announce: %w", err)
		}
		ep, err := endpoint(*rpcEndpoint)
		if err != nil {
			return err
		}
		defer serverutil.AnnounceSelf(ctx, et, *announceCluster, ep)()
	}

	m := &serverutil.Main{
		RPCEndpoint:       *rpcEndpoint,
		HTTPEndpoint:      *httpEndpoint,
		TLSCertFile:       *tlsCertFile,
		TLSKeyFile:        *tlsKeyFile,
		MetricFactory:     mf,
		StatsPrefix:       "gate",
		Interceptor:       &gate.Interceptor{Gate: g, Methods: methods},
		RegisterHandlerFn: api.Register,
		HealthyDeadline:   *healthzTimeout,
		ExtraOptions:      grpcOpts,
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error { return m.Run(ctx) })
	eg.Go(func() error { return evaluator.Run(ctx) })
	if reporter != nil {
		eg.Go(func() error { return runReporter(ctx, reporter) })
	}
	return eg.Wait()
}

// runReporter runs reporter on the instance holding the metering mastership.
func runReporter(ctx context.Context, reporter *metering.Reporter) error {
	f, err := election.NewFactory(*election.System)
	if err != nil {
		return err
	}
	e, err := f.NewElection(ctx, "metering")
	if err != nil {
		return err
	}
	return election.RunWhileMaster(ctx, e, *electionRetry, reporter.Run)
}

func endpoint(hostport string) (hostel.Endpoint, error) {
	host, port, err := net.SplitHostPort(hostport)
	if err != nil {
		return hostel.Endpoint{}, fmt.Errorf("invalid endpoint %q: %w", hostport, err)
	}
	p, err := strconv.Atoi(port)
	if err != nil {
		return hostel.Endpoint{}, fmt.Errorf("invalid port in %q: %w", hostport, err)
	}
	return hostel.Endpoint{Host: host, Port: p}, nil
}
