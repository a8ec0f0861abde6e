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

package flerr

import (
	"errors"
	"io"
	"strings"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestNewf(t *testing.T) {
	e := Newf(Internal, nil, "a %d b", 3)
	got := e.Error()
	want := "a 3 b (code=Internal)"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestUnwrap(t *testing.T) {
	e := New(NotFound, io.ErrUnexpectedEOF, "it failed")
	if !errors.Is(e, io.ErrUnexpectedEOF) {
		t.Error("errors.Is returned false, want true")
	}
}

func TestGRPCCode(t *testing.T) {
	for _, test := range []struct {
		in   error
		want ErrorCode
	}{
		{status.Error(codes.NotFound, "x"), NotFound},
		{status.Error(codes.AlreadyExists, "x"), AlreadyExists},
		{status.Error(codes.InvalidArgument, "x"), InvalidArgument},
		{status.Error(codes.PermissionDenied, "x"), PermissionDenied},
		{status.Error(codes.Unauthenticated, "x"), Unauthenticated},
		{status.Error(codes.ResourceExhausted, "x"), ResourceExhausted},
		{status.Error(codes.FailedPrecondition, "x"), FailedPrecondition},
		{status.Error(codes.Aborted, "x"), Aborted},
		{status.Error(codes.DeadlineExceeded, "x"), DeadlineExceeded},
		{status.Error(codes.Unavailable, "x"), Unavailable},
		{status.Error(codes.Canceled, "x"), Canceled},
		{status.Error(codes.Internal, "x"), Internal},
		{status.Error(codes.Unimplemented, "x"), Unimplemented},
		{io.EOF, Unknown},
	} {
		if got := GRPCCode(test.in); got != test.want {
			t.Errorf("%v: got %v, want %v", test.in, got, test.want)
		}
	}
}

func TestGRPCError(t *testing.T) {
	if got := GRPCError(nil, ""); got != nil {
		t.Errorf("got %v, want nil", got)
	}
	orig := status.Error(codes.PermissionDenied, "denied")
	err := GRPCError(orig, "")
	var e *Error
	if !errors.As(err, &e) {
		t.Fatalf("got %T, want *Error", err)
	}
	if e.Code != PermissionDenied {
		t.Errorf("got code %v, want PermissionDenied", e.Code)
	}
	// The cause's message survives, and the cause stays reachable.
	if got, want := err.Error(), "denied"; !strings.Contains(got, want) {
		t.Errorf("got %q, want it to contain %q", got, want)
	}
	if !errors.Is(err, orig) {
		t.Error("errors.Is(err, orig) == false, want true")
	}
}
