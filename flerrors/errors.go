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

// Package flerrors provides support for getting error codes from
// errors returned by Firelight APIs.
package flerrors

import (
	"errors"

	"github.com/quarrylabs/firelight/internal/flerr"
)

// An ErrorCode describes the error's category. Programs should act upon an
// error's code, not its message.
type ErrorCode = flerr.ErrorCode

const (
	// Returned by the Code function on a nil error. It is not a valid
	// code for an error.
	OK ErrorCode = flerr.OK

	// The error could not be categorized.
	Unknown ErrorCode = flerr.Unknown

	// The resource was not found.
	NotFound ErrorCode = flerr.NotFound

	// The resource exists, but it should not.
	AlreadyExists ErrorCode = flerr.AlreadyExists

	// A value given to a Firelight API is incorrect.
	InvalidArgument ErrorCode = flerr.InvalidArgument

	// Something unexpected happened. Internal errors always indicate
	// bugs in Firelight (or possibly the service).
	Internal ErrorCode = flerr.Internal

	// The feature is not implemented.
	Unimplemented ErrorCode = flerr.Unimplemented

	// The caller does not have permission for the operation.
	PermissionDenied ErrorCode = flerr.PermissionDenied

	// The caller's credentials were missing or invalid.
	Unauthenticated ErrorCode = flerr.Unauthenticated

	// A per-user or per-project quota was exhausted.
	ResourceExhausted ErrorCode = flerr.ResourceExhausted

	// The system was not in a state required for the operation.
	FailedPrecondition ErrorCode = flerr.FailedPrecondition

	// The operation was aborted, typically a concurrency conflict.
	Aborted ErrorCode = flerr.Aborted

	// The operation's deadline expired.
	DeadlineExceeded ErrorCode = flerr.DeadlineExceeded

	// The service is currently unavailable.
	Unavailable ErrorCode = flerr.Unavailable

	// The operation was canceled by the caller.
	Canceled ErrorCode = flerr.Canceled
)

// Code returns the ErrorCode of err if it, or an error it wraps, is an *Error.
// It returns Unknown if err is a non-nil error of a different type.
// If err is nil, it returns the special code OK.
func Code(err error) ErrorCode {
	if err == nil {
		return OK
	}
	var e *flerr.Error
	if errors.As(err, &e) {
		return e.Code
	}
	return Unknown
}
