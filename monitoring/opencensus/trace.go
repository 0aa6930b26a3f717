// Copyright 2017 Google LLC. All Rights Reserved.
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

// Package opencensus wires OpenCensus tracing into the monitoring package.
package opencensus

import (
	"context"

	"contrib.go.opencensus.io/exporter/stackdriver"
	"github.com/hostelcloud/hostel/monitoring"
	"go.opencensus.io/plugin/ocgrpc"
	"go.opencensus.io/stats/view"
	"go.opencensus.io/trace"
	"google.golang.org/grpc"
)

// EnableRPCServerTracing exports gRPC server views and traces to Stackdriver
// for the given project, and routes monitoring.StartSpan through OpenCensus.
// The returned options must be passed to grpc.NewServer.
func EnableRPCServerTracing(projectID string, percent int) ([]grpc.ServerOption, error) {
	sde, err := stackdriver.NewExporter(stackdriver.Options{ProjectID: projectID})
	if err != nil {
		return nil, err
	}
	view.RegisterExporter(sde)
	trace.RegisterExporter(sde)
	trace.ApplyConfig(trace.Config{DefaultSampler: Sampler(percent)})

	if err := view.Register(ocgrpc.DefaultServerViews...); err != nil {
		return nil, err
	}
	monitoring.SetStartSpanFunc(StartSpan)
	return []grpc.ServerOption{grpc.StatsHandler(&ocgrpc.ServerHandler{})}, nil
}

// Sampler returns a sampler tracing the given percentage of requests.
func Sampler(percent int) trace.Sampler {
	switch {
	case percent <= 0:
		return trace.NeverSample()
	case percent >= 100:
		return trace.AlwaysSample()
	}
	return trace.ProbabilitySampler(float64(percent) / 100)
}

// StartSpan starts an OpenCensus span. It has the signature of
// monitoring.StartSpanFunc.
func StartSpan(ctx context.Context, name string) (context.Context, func()) {
	ctx, span := trace.StartSpan(ctx, name)
	return ctx, span.End
}
