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

package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/hostelcloud/hostel"
	"github.com/hostelcloud/hostel/catalog"
	"github.com/hostelcloud/hostel/discovery"
	"github.com/hostelcloud/hostel/diskquota"
	"github.com/hostelcloud/hostel/gate"
	"github.com/hostelcloud/hostel/metering"
	"github.com/hostelcloud/hostel/monitoring"
	"github.com/hostelcloud/hostel/quota"
	"github.com/hostelcloud/hostel/server/admin"
	"github.com/hostelcloud/hostel/util/clock"
	"google.golang.org/grpc/codes"
)

func init() {
	gate.InitMetrics(monitoring.InertMetricFactory{})
	discovery.InitMetrics(monitoring.InertMetricFactory{})
}

const (
	hostelDB = "/Root/hostel"
	db       = "/Root/serverless-1"
)

var t0 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

type fixture struct {
	srv     *httptest.Server
	ts      *clock.FakeTimeSource
	tracker *diskquota.Tracker
	records *metering.Collector
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ts := clock.NewFake(t0)
	cat := catalog.New()
	limiter := quota.NewLimiter(quota.NewMemoryStore(ts))
	tracker := diskquota.NewTracker(time.Second, nil)
	records := &metering.Collector{}
	topo := discovery.NewStaticTopology()
	topo.Set("hostel-a", hostel.EndpointSet{Endpoints: []hostel.Endpoint{{Host: "n1", Port: 2135}, {Host: "n2", Port: 2135}}})

	a := &API{
		Admin: &admin.Server{
			Catalog:    cat,
			Limiter:    limiter,
			Tracker:    tracker,
			TimeSource: ts,
			Emitter:    records,
		},
		Gate:     &gate.Gate{Catalog: cat, Limiter: limiter, Tracker: tracker},
		Resolver: discovery.NewResolver(cat, topo),
		Monitor:  monitoring.NewHTTPRequestMonitor(ts, "test", nil),
	}
	mux := http.NewServeMux()
	a.Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	f := &fixture{srv: srv, ts: ts, tracker: tracker, records: records}
	f.mustDo(t, http.MethodPost, "/v1/databases", `{"path": "/Root/hostel", "cluster": "hostel-a"}`, http.StatusCreated, nil)
	f.mustDo(t, http.MethodPost, "/v1/databases", `{"path": "/Root/serverless-1", "hostel": "/Root/hostel"}`, http.StatusCreated, nil)
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) (int, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), method, f.srv.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest() returned err = %v", err)
	}
	resp, err := f.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s returned err = %v", method, path, err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading %s %s body returned err = %v", method, path, err)
	}
	return resp.StatusCode, b
}

func (f *fixture) mustDo(t *testing.T, method, path, body string, wantStatus int, out interface{}) {
	t.Helper()
	status, b := f.do(t, method, path, body)
	if status != wantStatus {
		t.Fatalf("%s %s = %d %s, want %d", method, path, status, b, wantStatus)
	}
	if out != nil {
		if err := json.Unmarshal(b, out); err != nil {
			t.Fatalf("%s %s: json.Unmarshal(%s) returned err = %v", method, path, b, err)
		}
	}
}

func TestSchemaQuotas(t *testing.T) {
	f := newFixture(t)
	const q = "?database=/Root/serverless-1"
	f.mustDo(t, http.MethodPut, "/v1/databases/schema_quotas"+q, `{"schema_quotas": [[2, 60], [4, 600]]}`, http.StatusOK, nil)

	for i := 0; i < 2; i++ {
		f.mustDo(t, http.MethodPost, "/v1/admission/schema"+q+"&operation=create_table", "", http.StatusOK, nil)
	}
	var e ErrorResponse
	f.mustDo(t, http.MethodPost, "/v1/admission/schema"+q, "", http.StatusTooManyRequests, &e)
	if !strings.Contains(e.Message, "exceeded a limit") {
		t.Errorf("rejection message = %q, want it to contain %q", e.Message, "exceeded a limit")
	}
	if e.Code != codes.ResourceExhausted.String() || e.RetryAfterSeconds != 60 {
		t.Errorf("rejection = %+v, want ResourceExhausted retrying after 60s", e)
	}

	var st Status
	f.mustDo(t, http.MethodGet, "/v1/databases/status"+q, "", http.StatusOK, &st)
	var got [][3]int64
	for _, b := range st.SchemaOperationQuotas.LeakyBucketQuotas {
		got = append(got, [3]int64{b.BucketSize, b.BucketSeconds, b.Consumed})
	}
	if diff := cmp.Diff([][3]int64{{2, 60, 2}, {4, 600, 2}}, got); diff != "" {
		t.Errorf("leaky_bucket_quotas diff (-want +got):\n%s", diff)
	}

	f.ts.Advance(time.Minute)
	f.mustDo(t, http.MethodPost, "/v1/admission/schema"+q, "", http.StatusOK, nil)

	for _, body := range []string{
		`{"schema_quotas": [[0, 60]]}`,
		`{"schema_quotas": [[2, 60, 5]]}`,
		`{"schema_quotas": [[2]]}`,
		`{"schema_quotas": [[1, 36893488148]]}`,
	} {
		f.mustDo(t, http.MethodPut, "/v1/databases/schema_quotas"+q, body, http.StatusBadRequest, nil)
	}
	var after Status
	f.mustDo(t, http.MethodGet, "/v1/databases/status"+q, "", http.StatusOK, &after)
	if got := len(after.SchemaOperationQuotas.LeakyBucketQuotas); got != 2 {
		t.Errorf("status has %d buckets after rejected updates, want 2", got)
	}
}

func TestDiskQuota(t *testing.T) {
	f := newFixture(t)
	const q = "?database=/Root/serverless-1"
	f.mustDo(t, http.MethodPut, "/v1/databases/storage_quota"+q, `{"limit_bytes": 100}`, http.StatusOK, nil)
	f.mustDo(t, http.MethodPost, "/v1/admission/write"+q+"&kind=dml&bytes=150", "", http.StatusOK, nil)
	f.mustDo(t, http.MethodPost, "/v1/usage"+q+"&delta_bytes=150", "", http.StatusNoContent, nil)
	if _, err := f.tracker.Evaluate(db, f.ts.Now()); err != nil {
		t.Fatalf("Evaluate() returned err = %v", err)
	}

	for _, test := range []struct {
		kind, want string
	}{
		{kind: "dml", want: "OUT_OF_SPACE"},
		{kind: "bulk", want: "out of disk space"},
	} {
		var e ErrorResponse
		f.mustDo(t, http.MethodPost, "/v1/admission/write"+q+"&bytes=1&kind="+test.kind, "", http.StatusServiceUnavailable, &e)
		if !strings.Contains(e.Message, test.want) {
			t.Errorf("%s rejection message = %q, want it to contain %q", test.kind, e.Message, test.want)
		}
	}

	var st Status
	f.mustDo(t, http.MethodGet, "/v1/databases/status"+q, "", http.StatusOK, &st)
	if want := (Storage{UsageBytes: 150, LimitBytes: 100, State: "EXCEEDED", DiskQuotaExceeded: true}); st.Storage != want {
		t.Errorf("status storage = %+v, want %+v", st.Storage, want)
	}

	f.mustDo(t, http.MethodPost, "/v1/admission/write"+q+"&kind=other", "", http.StatusBadRequest, nil)
}

func TestStorageBilling(t *testing.T) {
	f := newFixture(t)
	f.mustDo(t, http.MethodPut, "/v1/databases/storage_billing?database=/Root/serverless-1", `{"enabled": true}`, http.StatusOK, nil)
	records := f.records.Records()
	if len(records) != 1 || records[0].Schema != metering.BillingToggleSchema || records[0].Database != db {
		t.Errorf("metering records = %+v, want one billing toggle of %s", records, db)
	}
}

func TestDiscovery(t *testing.T) {
	f := newFixture(t)
	var hostelEps, serverlessEps hostel.EndpointSet
	f.mustDo(t, http.MethodGet, "/v1/discovery?database=/Root/hostel", "", http.StatusOK, &hostelEps)
	f.mustDo(t, http.MethodGet, "/v1/discovery?database=/Root/serverless-1", "", http.StatusOK, &serverlessEps)
	if len(hostelEps.Endpoints) != 2 || !hostelEps.Equal(serverlessEps) {
		t.Errorf("discovery of %s = %v, of %s = %v, want the same two endpoints", hostelDB, hostelEps, db, serverlessEps)
	}

	_, b := f.do(t, http.MethodGet, "/v1/discovery?database=/Root/missing", "")
	if got := strings.TrimSpace(string(b)); got != "null" {
		t.Errorf("discovery of unknown database = %s, want null", got)
	}
}

func TestDatabases(t *testing.T) {
	f := newFixture(t)
	var list struct {
		Databases []Database `json:"databases"`
	}
	f.mustDo(t, http.MethodGet, "/v1/databases?prefix=/Root/s", "", http.StatusOK, &list)
	if diff := cmp.Diff([]Database{{Path: db, Hostel: hostelDB}}, list.Databases); diff != "" {
		t.Errorf("list diff (-want +got):\n%s", diff)
	}

	f.mustDo(t, http.MethodDelete, "/v1/databases?database=/Root/hostel", "", http.StatusBadRequest, nil)
	f.mustDo(t, http.MethodDelete, "/v1/databases?database=/Root/serverless-1", "", http.StatusNoContent, nil)
	f.mustDo(t, http.MethodGet, "/v1/databases/status?database=/Root/serverless-1", "", http.StatusNotFound, nil)
	f.mustDo(t, http.MethodGet, "/v1/databases/status", "", http.StatusBadRequest, nil)
	f.mustDo(t, http.MethodPost, "/v1/databases", `{"path": "/Root/x", "unknown": 1}`, http.StatusBadRequest, nil)
}

func TestHTTPStatus(t *testing.T) {
	for _, test := range []struct {
		code codes.Code
		want int
	}{
		{code: codes.ResourceExhausted, want: http.StatusTooManyRequests},
		{code: codes.Unavailable, want: http.StatusServiceUnavailable},
		{code: codes.NotFound, want: http.StatusNotFound},
		{code: codes.InvalidArgument, want: http.StatusBadRequest},
		{code: codes.Aborted, want: http.StatusConflict},
		{code: codes.Unknown, want: http.StatusInternalServerError},
	} {
		if got := HTTPStatus(test.code); got != test.want {
			t.Errorf("HTTPStatus(%v) = %d, want %d", test.code, got, test.want)
		}
	}
}
