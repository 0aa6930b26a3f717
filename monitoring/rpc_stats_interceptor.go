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

// Package monitoring provides monitoring functionality.
package monitoring

import (
	"context"
	"fmt"
	"time"

	"github.com/hostelcloud/hostel/util/clock"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

const traceSpanRoot = "/hostel/mon/"

// RPCStatsInterceptor provides a gRPC interceptor that records statistics
// about the RPCs passing through it. Errors are labelled with their gRPC code
// so admission rejections can be told apart from failures.
type RPCStatsInterceptor struct {
	prefix            string
	timeSource        clock.TimeSource
	ReqCount          Counter
	ReqSuccessCount   Counter
	ReqSuccessLatency Histogram
	ReqErrorCount     Counter
	ReqErrorLatency   Histogram
}

// NewRPCStatsInterceptor creates a new RPCStatsInterceptor for the given
// application/component, with a specified time source.
func NewRPCStatsInterceptor(timeSource clock.TimeSource, prefix string, mf MetricFactory) *RPCStatsInterceptor {
	if mf == nil {
		mf = InertMetricFactory{}
	}
	return &RPCStatsInterceptor{
		prefix:            prefix,
		timeSource:        timeSource,
		ReqCount:          mf.NewCounter(prefixedName(prefix, "rpc_requests"), "Number of requests", "method"),
		ReqSuccessCount:   mf.NewCounter(prefixedName(prefix, "rpc_success"), "Number of successful requests", "method"),
		ReqSuccessLatency: mf.NewHistogramWithBuckets(prefixedName(prefix, "rpc_success_latency"), "Latency of successful requests in seconds", LatencyBuckets(), "method"),
		ReqErrorCount:     mf.NewCounter(prefixedName(prefix, "rpc_errors"), "Number of errored requests", "method", "code"),
		ReqErrorLatency:   mf.NewHistogramWithBuckets(prefixedName(prefix, "rpc_error_latency"), "Latency of errored requests in seconds", LatencyBuckets(), "method"),
	}
}

func prefixedName(prefix, name string) string {
	return fmt.Sprintf("%s_%s", prefix, name)
}

func (r *RPCStatsInterceptor) recordFailure(method, code string, startTime time.Time) {
	latency := clock.SecondsSince(r.timeSource, startTime)
	r.ReqErrorCount.Inc(method, code)
	r.ReqErrorLatency.Observe(latency, method)
}

// Interceptor returns a UnaryServerInterceptor that can be registered with an
// RPC server and will record request counts / errors and latencies for that
// server's handlers.
func (r *RPCStatsInterceptor) Interceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		method := info.FullMethod

		ctx, spanEnd := StartSpan(ctx, traceSpanRoot+method)
		defer spanEnd()

		r.ReqCount.Inc(method)
		startTime := r.timeSource.Now()

		defer func() {
			if rec := recover(); rec != nil {
				// A panicking handler counts as a server failure.
				r.recordFailure(method, "panic", startTime)
				panic(rec)
			}
		}()

		rsp, err := handler(ctx, req)
		if err != nil {
			r.recordFailure(method, status.Code(err).String(), startTime)
		} else {
			latency := clock.SecondsSince(r.timeSource, startTime)
			r.ReqSuccessCount.Inc(method)
			r.ReqSuccessLatency.Observe(latency, method)
		}
		return rsp, err
	}
}
