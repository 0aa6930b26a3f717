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
	"fmt"
	"strings"

	"github.com/hostelcloud/hostel/diskquota"
	"github.com/hostelcloud/hostel/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/proto"
	"k8s.io/klog/v2"
)

// DatabaseMetadataKey is the gRPC metadata key naming the database a request
// addresses, for requests that do not carry it themselves.
const DatabaseMetadataKey = "x-hostel-database"

// MethodKind classifies an RPC for admission.
type MethodKind int

const (
	// Read methods are never gated.
	Read MethodKind = iota
	// Schema methods are schema operations.
	Schema
	// DML methods write data transactionally.
	DML
	// Bulk methods upsert rows in bulk.
	Bulk
)

var methodKindNames = map[string]MethodKind{"read": Read, "schema": Schema, "dml": DML, "bulk": Bulk}

func (k MethodKind) String() string {
	for name, kind := range methodKindNames {
		if kind == k {
			return name
		}
	}
	return fmt.Sprintf("MethodKind(%d)", int(k))
}

// ParseMethodKinds parses a comma-separated list of method=kind pairs, e.g.
// "/hostel.v1.Table/CreateTable=schema,/hostel.v1.Table/BulkUpsert=bulk".
func ParseMethodKinds(s string) (map[string]MethodKind, error) {
	r := make(map[string]MethodKind)
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		method, name, ok := strings.Cut(pair, "=")
		if !ok || !strings.HasPrefix(method, "/") {
			return nil, errors.Errorf(errors.ConfigurationInvalid, "invalid method kind %q, want /service/method=kind", pair)
		}
		kind, ok := methodKindNames[name]
		if !ok {
			return nil, errors.Errorf(errors.ConfigurationInvalid, "unknown method kind %q for %s", name, method)
		}
		r[method] = kind
	}
	return r, nil
}

// RequestProcessor encapsulates the logic to intercept a request, split into
// separate stages: before and after the handler is invoked.
type RequestProcessor interface {
	// Before implements all interceptor logic that happens before the
	// handler is called. It returns a (potentially) modified context that's
	// passed forward to the handler (and After), plus an error, in case the
	// request should be interrupted before the handler is invoked.
	Before(ctx context.Context, req interface{}) (context.Context, error)

	// After implements all interceptor logic that happens after the handler
	// is invoked. Before must be invoked prior to After and the same
	// RequestProcessor instance must be used to process a given request.
	After(ctx context.Context, resp interface{}, handlerErr error)
}

// Interceptor gates the RPCs listed in Methods, keyed by full method name
// (e.g. "/hostel.v1.Table/CreateTable"). Unlisted methods are Read methods.
type Interceptor struct {
	Gate    *Gate
	Methods map[string]MethodKind
}

// UnaryInterceptor executes the Interceptor logic for unary RPCs.
func (i *Interceptor) UnaryInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	// Implement UnaryInterceptor using a RequestProcessor, so we 1. exercise it and 2. make it
	// easier to port this logic to non-gRPC implementations.
	rp := i.NewProcessor(info.FullMethod)
	var err error
	ctx, err = rp.Before(ctx, req)
	if err != nil {
		return nil, err
	}
	resp, err := handler(ctx, req)
	rp.After(ctx, resp, err)
	return resp, err
}

// NewProcessor returns a RequestProcessor for a call of method.
func (i *Interceptor) NewProcessor(method string) RequestProcessor {
	return &processor{parent: i, method: method, kind: i.Methods[method]}
}

type processor struct {
	parent   *Interceptor
	method   string
	kind     MethodKind
	database string
	size     int64
}

func (p *processor) Before(ctx context.Context, req interface{}) (context.Context, error) {
	if p.kind == Read {
		return ctx, nil
	}
	p.database = databaseOf(ctx, req)
	if p.database == "" {
		incDenied(badRequestReason, "")
		return ctx, errors.Errorf(errors.ConfigurationInvalid, "%s: request names no database; set %s", p.method, DatabaseMetadataKey)
	}

	g := p.parent.Gate
	switch p.kind {
	case Schema:
		res, err := g.AdmitSchema(ctx, p.database, p.method)
		if err != nil {
			return ctx, err
		}
		// The handler runs right after Before returns.
		res.Commit()
	case DML, Bulk:
		if m, ok := req.(proto.Message); ok {
			p.size = int64(proto.Size(m))
		}
		if err := g.AdmitWrite(ctx, p.database, writeKind(p.kind), p.size); err != nil {
			return ctx, err
		}
	}
	return ctx, nil
}

func (p *processor) After(ctx context.Context, resp interface{}, handlerErr error) {
	if p.kind == Read || handlerErr != nil {
		return
	}
	if p.database == "" {
		klog.Warningf("After called without Before for %s, resp = [%+v]", p.method, resp)
		return
	}
	delta := p.size
	if r, ok := resp.(usageDeltaResponse); ok {
		delta = r.GetUsageDeltaBytes()
	}
	p.parent.Gate.RecordUsage(p.database, delta)
}

func writeKind(k MethodKind) diskquota.WriteKind {
	if k == Bulk {
		return diskquota.Bulk
	}
	return diskquota.DML
}

// databaseOf returns the database addressed by req, taken from the request
// itself or else from the incoming metadata.
func databaseOf(ctx context.Context, req interface{}) string {
	if r, ok := req.(databaseRequest); ok && r.GetDatabase() != "" {
		return r.GetDatabase()
	}
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if v := md.Get(DatabaseMetadataKey); len(v) > 0 {
			return v[0]
		}
	}
	return ""
}

type databaseRequest interface {
	GetDatabase() string
}

// usageDeltaResponse is implemented by responses reporting the exact storage
// change their operation caused. Other writes are accounted at their request
// size.
type usageDeltaResponse interface {
	GetUsageDeltaBytes() int64
}
