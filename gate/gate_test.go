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

package gate

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hostelcloud/hostel"
	"github.com/hostelcloud/hostel/catalog"
	"github.com/hostelcloud/hostel/diskquota"
	herrors "github.com/hostelcloud/hostel/errors"
	"github.com/hostelcloud/hostel/monitoring"
	mtestonly "github.com/hostelcloud/hostel/monitoring/testonly"
	"github.com/hostelcloud/hostel/quota"
	"github.com/hostelcloud/hostel/util/clock"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func init() {
	InitMetrics(monitoring.InertMetricFactory{})
}

const (
	hostelDB = "/Root/hostel"
	db       = "/Root/serverless-1"
)

var t0 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

type fixture struct {
	gate *Gate
	ts   *clock.FakeTimeSource
}

// newFixture returns a Gate for db with a (2,60s) schema quota and a storage
// limit of limitBytes.
func newFixture(t *testing.T, limitBytes int64) *fixture {
	t.Helper()
	ctx := context.Background()
	ts := clock.NewFake(t0)
	cat := catalog.New()
	quotas := []hostel.SchemaQuota{hostel.NewSchemaQuota(2, 60)}
	for _, d := range []*hostel.Database{
		{Path: hostelDB, Cluster: "hostel-a"},
		{Path: db, Hostel: hostelDB, SchemaQuotas: quotas, StorageQuota: &hostel.StorageQuota{LimitBytes: limitBytes}},
	} {
		if err := cat.Create(d); err != nil {
			t.Fatalf("Create(%v) returned err = %v", d.Path, err)
		}
	}
	l := quota.NewLimiter(quota.NewMemoryStore(ts))
	if err := l.Configure(ctx, db, quotas); err != nil {
		t.Fatalf("Configure() returned err = %v", err)
	}
	tr := diskquota.NewTracker(time.Second, nil)
	tr.Register(hostelDB, 0)
	tr.Register(db, limitBytes)
	return &fixture{gate: &Gate{Catalog: cat, Limiter: l, Tracker: tr}, ts: ts}
}

func noop(context.Context) (int64, error) { return 0, nil }

func grow(n int64) ExecFunc {
	return func(context.Context) (int64, error) { return n, nil }
}

func TestExecuteSchemaRateLimit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	ran := 0
	exec := func(context.Context) (int64, error) {
		ran++
		return 0, nil
	}

	for i := 0; i < 2; i++ {
		if err := f.gate.ExecuteSchema(ctx, db, "create_table", exec); err != nil {
			t.Fatalf("ExecuteSchema() #%d returned err = %v", i, err)
		}
	}
	err := f.gate.ExecuteSchema(ctx, db, "create_table", exec)
	if got, want := status.Code(err), codes.ResourceExhausted; got != want {
		t.Errorf("ExecuteSchema() #3 returned code %v, want %v", got, want)
	}
	if err == nil || !strings.Contains(err.Error(), "exceeded a limit") {
		t.Errorf("ExecuteSchema() #3 returned err = %v", err)
	}
	if ran != 2 {
		t.Errorf("operation ran %d times, want 2", ran)
	}

	// Schema operations of other databases are not limited.
	if err := f.gate.ExecuteSchema(ctx, hostelDB, "make_directory", exec); err != nil {
		t.Errorf("ExecuteSchema(%v) returned err = %v", hostelDB, err)
	}

	f.ts.Advance(time.Minute)
	if err := f.gate.ExecuteSchema(ctx, db, "create_table", exec); err != nil {
		t.Errorf("ExecuteSchema() after window returned err = %v", err)
	}
}

func TestExecuteSchemaFailedOperationCounts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	boom := errors.New("scheme shard unavailable")
	for i := 0; i < 2; i++ {
		err := f.gate.ExecuteSchema(ctx, db, "drop_table", func(context.Context) (int64, error) { return 0, boom })
		if !errors.Is(err, boom) {
			t.Fatalf("ExecuteSchema() returned err = %v, want %v", err, boom)
		}
	}
	if err := f.gate.ExecuteSchema(ctx, db, "drop_table", noop); herrors.KindOf(err) != herrors.RateExceeded {
		t.Errorf("ExecuteSchema() returned err = %v, want RateExceeded", err)
	}
}

func TestExecuteSchemaCanceledBeforeDispatch(t *testing.T) {
	f := newFixture(t, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for i := 0; i < 3; i++ {
		if err := f.gate.ExecuteSchema(ctx, db, "create_table", noop); !errors.Is(err, context.Canceled) {
			t.Fatalf("ExecuteSchema() returned err = %v, want %v", err, context.Canceled)
		}
	}
	// Nothing was dispatched, so the quota is intact.
	set, err := f.gate.Limiter.Peek(context.Background(), db)
	if err != nil {
		t.Fatalf("Peek() returned err = %v", err)
	}
	if got := set.Buckets[0].Consumed; got != 0 {
		t.Errorf("Consumed = %d, want 0", got)
	}
}

func TestExecuteWriteDiskQuota(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1000)
	tr := f.gate.Tracker

	if err := f.gate.ExecuteWrite(ctx, db, diskquota.DML, 600, grow(600)); err != nil {
		t.Fatalf("ExecuteWrite() returned err = %v", err)
	}
	// Usage is over the limit only after this write, and admission follows
	// the evaluated state.
	if err := f.gate.ExecuteWrite(ctx, db, diskquota.Bulk, 600, grow(600)); err != nil {
		t.Fatalf("ExecuteWrite() returned err = %v", err)
	}
	tr.EvaluateAll(t0)

	for _, test := range []struct {
		kind diskquota.WriteKind
		want string
	}{
		{kind: diskquota.DML, want: "OUT_OF_SPACE"},
		{kind: diskquota.Bulk, want: "out of disk space"},
	} {
		err := f.gate.ExecuteWrite(ctx, db, test.kind, 1, grow(1))
		if got, want := status.Code(err), codes.Unavailable; got != want {
			t.Errorf("ExecuteWrite(%v) returned code %v, want %v", test.kind, got, want)
		}
		if err == nil || !strings.Contains(err.Error(), test.want) {
			t.Errorf("ExecuteWrite(%v) returned err = %v, want it to contain %q", test.kind, err, test.want)
		}
	}

	// Reads and schema operations are unaffected.
	if err := f.gate.ExecuteSchema(ctx, db, "drop_table", grow(-1100)); err != nil {
		t.Errorf("ExecuteSchema() while Exceeded returned err = %v", err)
	}
	tr.EvaluateAll(t0.Add(time.Second))
	tr.EvaluateAll(t0.Add(2 * time.Second))
	if err := f.gate.ExecuteWrite(ctx, db, diskquota.DML, 1, grow(1)); err != nil {
		t.Errorf("ExecuteWrite() after recovery returned err = %v", err)
	}
}

func TestUnknownDatabase(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	if err := f.gate.ExecuteSchema(ctx, "/Root/none", "create_table", noop); herrors.KindOf(err) != herrors.NotFound {
		t.Errorf("ExecuteSchema(unknown) returned err = %v, want NotFound", err)
	}
	if err := f.gate.ExecuteWrite(ctx, "/Root/none", diskquota.DML, 1, noop); herrors.KindOf(err) != herrors.NotFound {
		t.Errorf("ExecuteWrite(unknown) returned err = %v, want NotFound", err)
	}
}

func TestDryRun(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10)
	f.gate.DryRun = true
	f.gate.RecordUsage(db, 100)
	f.gate.Tracker.EvaluateAll(t0)

	dryRuns := mtestonly.NewCounterSnapshot(dryRunCounter)
	dryRuns.Record(schemaLabel)
	for i := 0; i < 5; i++ {
		if err := f.gate.ExecuteSchema(ctx, db, "create_table", noop); err != nil {
			t.Errorf("ExecuteSchema() #%d in dry run returned err = %v", i, err)
		}
	}
	if got, want := dryRuns.Delta(schemaLabel), 3.0; got != want {
		t.Errorf("dry run counter delta = %v, want %v", got, want)
	}
	if err := f.gate.ExecuteWrite(ctx, db, diskquota.DML, 1, noop); err != nil {
		t.Errorf("ExecuteWrite() in dry run returned err = %v", err)
	}
	if got := f.gate.Tracker.CurrentState(db); got != hostel.Exceeded {
		t.Errorf("CurrentState() = %v, want Exceeded", got)
	}
}
