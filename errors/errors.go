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

// Package errors defines the rejection errors returned by the admission
// components.
//
// Every error carries a Kind that maps onto a gRPC code, so callers may use
// status.Code(err) directly, and onto a sentinel value usable with errors.Is.
// Messages are user-visible and their wording is relied upon by clients: rate
// rejections contain "exceeded a limit", DML storage rejections contain
// "OUT_OF_SPACE" and bulk storage rejections contain "out of disk space".
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/protoadapt"
	"google.golang.org/protobuf/types/known/durationpb"
	"k8s.io/klog/v2"
)

// Kind classifies an admission error.
type Kind int

const (
	// Unknown is the kind of errors not created by this package.
	Unknown Kind = iota

	// RateExceeded means a schema operation bucket is exhausted. The caller may
	// retry once the bucket window rolls over.
	RateExceeded

	// StorageExceeded means the database is over its storage quota. Writes are
	// rejected until usage drops below the limit.
	StorageExceeded

	// StaleSession means the session the operation ran on is no longer valid.
	// The caller should retry on a new session.
	StaleSession

	// ConfigurationInvalid means a quota or database configuration was
	// rejected.
	ConfigurationInvalid

	// NotFound means the database is not known.
	NotFound
)

// Code returns the gRPC code for k.
func (k Kind) Code() codes.Code {
	switch k {
	case RateExceeded:
		return codes.ResourceExhausted
	case StorageExceeded:
		return codes.Unavailable
	case StaleSession:
		return codes.Aborted
	case ConfigurationInvalid:
		return codes.InvalidArgument
	case NotFound:
		return codes.NotFound
	}
	return codes.Unknown
}

func (k Kind) String() string {
	switch k {
	case RateExceeded:
		return "RateExceeded"
	case StorageExceeded:
		return "StorageExceeded"
	case StaleSession:
		return "StaleSession"
	case ConfigurationInvalid:
		return "ConfigurationInvalid"
	case NotFound:
		return "NotFound"
	}
	return "Unknown"
}

// Sentinels for use with errors.Is.
var (
	ErrRateExceeded         = &Error{Kind: RateExceeded}
	ErrStorageExceeded      = &Error{Kind: StorageExceeded}
	ErrStaleSession         = &Error{Kind: StaleSession}
	ErrConfigurationInvalid = &Error{Kind: ConfigurationInvalid}
	ErrNotFound             = &Error{Kind: NotFound}
)

// Error is an admission error.
type Error struct {
	Kind Kind

	// Database the error applies to, if any.
	Database string

	// Msg is the user-visible message.
	Msg string

	// RetryDelay is a hint for how long the caller should wait before
	// retrying. Zero means no hint.
	RetryDelay time.Duration

	// Subject names the exhausted quota, e.g. "schema_operations/60s".
	Subject string

	cause error
}

// Errorf creates an error of the given kind.
func Errorf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap creates an error of the given kind that wraps cause.
func Wrap(kind Kind, cause error, format string, args ...interface{}) *Error {
	e := Errorf(kind, format, args...)
	e.cause = cause
	return e
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return e.Kind.String()
	}
	return e.Msg
}

// Unwrap returns the wrapped cause, if any.
func (e *Error) Unwrap() error {
	return e.cause
}

// Is reports whether target is the sentinel for e's kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Msg == "" && t.Database == "" && t.Kind == e.Kind
}

// GRPCStatus converts e to a gRPC status carrying retry and quota details.
func (e *Error) GRPCStatus() *status.Status {
	s := status.New(e.Kind.Code(), e.Error())
	var details []protoadapt.MessageV1
	if e.RetryDelay > 0 {
		details = append(details, &errdetails.RetryInfo{RetryDelay: durationpb.New(e.RetryDelay)})
	}
	if e.Subject != "" {
		details = append(details, &errdetails.QuotaFailure{
			Violations: []*errdetails.QuotaFailure_Violation{{
				Subject:     e.Subject,
				Description: e.Error(),
			}},
		})
	}
	if len(details) == 0 {
		return s
	}
	withDetails, err := s.WithDetails(details...)
	if err != nil {
		klog.Warningf("Failed to attach details to %v status: %v", e.Kind, err)
		return s
	}
	return withDetails
}

// KindOf returns the kind of err, looking through wrapped errors and gRPC
// statuses. Errors not produced by this package return Unknown.
func KindOf(err error) Kind {
	if err == nil {
		return Unknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	s, _ := status.FromError(err)
	switch s.Code() {
	case codes.ResourceExhausted:
		return RateExceeded
	case codes.Unavailable:
		if msg := s.Message(); strings.Contains(msg, "OUT_OF_SPACE") || strings.Contains(msg, "out of disk space") {
			return StorageExceeded
		}
	case codes.Aborted:
		return StaleSession
	case codes.InvalidArgument:
		return ConfigurationInvalid
	case codes.NotFound:
		return NotFound
	}
	return Unknown
}

// RetryDelayOf returns the retry hint carried by err, or zero.
func RetryDelayOf(err error) time.Duration {
	var e *Error
	if errors.As(err, &e) {
		return e.RetryDelay
	}
	s, ok := status.FromError(err)
	if !ok {
		return 0
	}
	for _, d := range s.Details() {
		if ri, ok := d.(*errdetails.RetryInfo); ok {
			return ri.GetRetryDelay().AsDuration()
		}
	}
	return 0
}

// RateExceededError is returned when a schema operation bucket of database is
// exhausted. retryAfter is the time left until the bucket window rolls over.
func RateExceededError(database, subject string, retryAfter time.Duration) *Error {
	return &Error{
		Kind:       RateExceeded,
		Database:   database,
		Msg:        "Request exceeded a limit on the number of schema operations, try again later.",
		RetryDelay: retryAfter,
		Subject:    subject,
	}
}

// StorageExceededError is returned when database is over its storage quota.
// Bulk writes and DML writes report the condition with different messages.
func StorageExceededError(database string, bulk bool) *Error {
	msg := fmt.Sprintf("Status: OUT_OF_SPACE. Cannot perform writes: database %s is out of its storage quota", database)
	if bulk {
		msg = fmt.Sprintf("Cannot perform bulk upsert: database %s is out of disk space", database)
	}
	return &Error{
		Kind:     StorageExceeded,
		Database: database,
		Msg:      msg,
		Subject:  "storage/" + database,
	}
}

// NotFoundError is returned for an unknown database.
func NotFoundError(database string) *Error {
	return &Error{Kind: NotFound, Database: database, Msg: fmt.Sprintf("database %q not found", database)}
}
