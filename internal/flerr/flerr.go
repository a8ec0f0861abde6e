// Copyright 2026 The Firelight Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package flerr provides the error type used by Firelight APIs.
package flerr

import (
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// An ErrorCode describes the error's category.
type ErrorCode int

const (
	// Returned by the Code function on a nil error. It is not a valid
	// code for an error.
	OK ErrorCode = 0

	// The error could not be categorized.
	Unknown ErrorCode = 1

	// The resource was not found.
	NotFound ErrorCode = 2

	// The resource exists, but it should not.
	AlreadyExists ErrorCode = 3

	// A value given to a Firelight API is incorrect.
	InvalidArgument ErrorCode = 4

	// Something unexpected happened. Internal errors always indicate
	// bugs in Firelight (or possibly the service).
	Internal ErrorCode = 5

	// The feature is not implemented.
	Unimplemented ErrorCode = 6

	// The caller does not have permission for the operation.
	PermissionDenied ErrorCode = 7

	// The caller's credentials were missing or invalid.
	Unauthenticated ErrorCode = 8

	// A per-user or per-project quota was exhausted.
	ResourceExhausted ErrorCode = 9

	// The system was not in a state required for the operation, e.g. a
	// transaction read issued after a buffered write.
	FailedPrecondition ErrorCode = 10

	// The operation was aborted, typically due to a concurrency conflict
	// such as a transaction write-write conflict.
	Aborted ErrorCode = 11

	// The operation's deadline expired before it could complete.
	DeadlineExceeded ErrorCode = 12

	// The service is currently unavailable; usually transient.
	Unavailable ErrorCode = 13

	// The operation was canceled by the caller.
	Canceled ErrorCode = 14
)

//go:generate stringer -type=ErrorCode

// An Error describes a Firelight error.
type Error struct {
	Code ErrorCode
	msg  string
	err  error
}

func (e *Error) Error() string {
	if e.msg == "" {
		if e.err != nil {
			return fmt.Sprintf("%v (code=%v)", e.err, e.Code)
		}
		return fmt.Sprintf("code=%v", e.Code)
	}
	return fmt.Sprintf("%s (code=%v)", e.msg, e.Code)
}

// Unwrap returns the error underlying the receiver, which may be nil.
func (e *Error) Unwrap() error {
	return e.err
}

// New returns a new error with the given code, underlying error and message.
func New(c ErrorCode, err error, msg string) *Error {
	return &Error{
		Code: c,
		msg:  msg,
		err:  err,
	}
}

// Newf uses format and args to format a message, then calls New.
func Newf(c ErrorCode, err error, format string, args ...interface{}) *Error {
	return New(c, err, fmt.Sprintf(format, args...))
}

// GRPCCode extracts the gRPC status code and converts it into an ErrorCode.
// It returns Unknown if the error isn't from gRPC.
func GRPCCode(err error) ErrorCode {
	switch status.Code(err) {
	case codes.NotFound:
		return NotFound
	case codes.AlreadyExists:
		return AlreadyExists
	case codes.InvalidArgument:
		return InvalidArgument
	case codes.Internal:
		return Internal
	case codes.Unimplemented:
		return Unimplemented
	case codes.PermissionDenied:
		return PermissionDenied
	case codes.Unauthenticated:
		return Unauthenticated
	case codes.ResourceExhausted:
		return ResourceExhausted
	case codes.FailedPrecondition:
		return FailedPrecondition
	case codes.Aborted:
		return Aborted
	case codes.DeadlineExceeded:
		return DeadlineExceeded
	case codes.Unavailable:
		return Unavailable
	case codes.Canceled:
		return Canceled
	default:
		return Unknown
	}
}

// GRPCError converts a gRPC error into an *Error, preserving the original as
// the wrapped cause. With an empty msg the error's text is the cause's.
// A nil error returns nil.
func GRPCError(err error, msg string) error {
	if err == nil {
		return nil
	}
	return New(GRPCCode(err), err, msg)
}
