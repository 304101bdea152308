// Copyright 2021 FerretDB Inc.
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

package pool

import (
	"errors"
	"fmt"
	"slices"
)

//go:generate ../../bin/stringer -linecomment -type ErrorCode

// ErrorCode represents a pool error code.
type ErrorCode int

// Error codes.
const (
	_ ErrorCode = iota

	ErrorCodeNoConnectionsAvailable // NoConnectionsAvailable
	ErrorCodeConnectionFailed       // ConnectionFailed
	ErrorCodeTimeout                // Timeout
	ErrorCodeMaxConnectionsReached  // MaxConnectionsReached
)

// Error represents a pool error.
//
// Pool never retries internally; all errors are reported to the caller.
type Error struct {
	// underlying error (factory or context); may be nil
	err error

	code ErrorCode
}

// newError creates a new pool error.
func newError(code ErrorCode, err error) *Error {
	if code == 0 {
		panic("pool.newError: code must not be 0")
	}

	return &Error{
		code: code,
		err:  err,
	}
}

// Code returns the error code.
func (err *Error) Code() ErrorCode {
	return err.code
}

// Error implements error interface.
func (err *Error) Error() string {
	if err.err == nil {
		return fmt.Sprintf("pool: %s", err.code)
	}

	return fmt.Sprintf("pool: %s: %v", err.code, err.err)
}

// Unwrap returns the underlying error.
func (err *Error) Unwrap() error {
	return err.err
}

// ErrorCodeIs returns true if err is or wraps *Error with one of the given codes.
func ErrorCodeIs(err error, code ErrorCode, codes ...ErrorCode) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}

	return e.code == code || slices.Contains(codes, e.code)
}

// check interfaces
var (
	_ error = (*Error)(nil)
)
