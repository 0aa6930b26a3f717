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

package monitoring

import (
	"context"
	"testing"
	"time"

	"github.com/hostelcloud/hostel/util/clock"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var fakeTime = time.Date(2016, 10, 3, 12, 38, 27, 36, time.UTC)

// handlerTaking returns a handler that advances ts by d and then returns the
// given response.
func handlerTaking(ts *clock.FakeTimeSource, d time.Duration, resp interface{}, err error) grpc.UnaryHandler {
	return func(ctx context.Context, req interface{}) (interface{}, error) {
		ts.Advance(d)
		return resp, err
	}
}

func TestRPCStatsInterceptor(t *testing.T) {
	for _, test := range []struct {
		desc        string
		latency     time.Duration
		err         error
		wantCode    string
		wantSuccess float64
	}{
		{desc: "ok", latency: 500 * time.Millisecond, wantSuccess: 1},
		{desc: "exhausted", latency: 3 * time.Second, err: status.Error(codes.ResourceExhausted, "exceeded a limit"), wantCode: "ResourceExhausted"},
		{desc: "unavailable", latency: time.Second, err: status.Error(codes.Unavailable, "OUT_OF_SPACE"), wantCode: "Unavailable"},
	} {
		t.Run(test.desc, func(t *testing.T) {
			ts := clock.NewFake(fakeTime)
			stats := NewRPCStatsInterceptor(ts, "test", InertMetricFactory{})
			i := stats.Interceptor()
			method := "/hostel.Gate/" + test.desc

			resp, err := i(context.Background(), "req", &grpc.UnaryServerInfo{FullMethod: method}, handlerTaking(ts, test.latency, "OK", test.err))
			if err != test.err {
				t.Fatalf("Interceptor() returned err = %v, want %v", err, test.err)
			}
			if resp != "OK" {
				t.Errorf("Interceptor() returned resp = %v, want OK", resp)
			}
			if got, want := stats.ReqCount.Value(method), 1.0; got != want {
				t.Errorf("ReqCount = %v, want %v", got, want)
			}
			if got := stats.ReqSuccessCount.Value(method); got != test.wantSuccess {
				t.Errorf("ReqSuccessCount = %v, want %v", got, test.wantSuccess)
			}

			latency := stats.ReqSuccessLatency
			if test.err != nil {
				if got, want := stats.ReqErrorCount.Value(method, test.wantCode), 1.0; got != want {
					t.Errorf("ReqErrorCount[%v] = %v, want %v", test.wantCode, got, want)
				}
				latency = stats.ReqErrorLatency
			}
			count, sum := latency.Info(method)
			if count != 1 || sum != test.latency.Seconds() {
				t.Errorf("latency Info() = (%v, %v), want (1, %v)", count, sum, test.latency.Seconds())
			}
		})
	}
}

func TestRPCStatsInterceptorPanic(t *testing.T) {
	ts := clock.NewFake(fakeTime)
	stats := NewRPCStatsInterceptor(ts, "test", InertMetricFactory{})
	i := stats.Interceptor()
	panicky := func(ctx context.Context, req interface{}) (interface{}, error) {
		panic("boom")
	}

	defer func() {
		if recover() == nil {
			t.Fatal("Interceptor() did not propagate panic")
		}
		if got, want := stats.ReqErrorCount.Value("m", "panic"), 1.0; got != want {
			t.Errorf("ReqErrorCount[panic] = %v, want %v", got, want)
		}
	}()
	_, _ = i(context.Background(), "req", &grpc.UnaryServerInfo{FullMethod: "m"}, panicky)
}
