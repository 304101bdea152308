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

package backends

import (
	"errors"
	"fmt"
	"slices"

	"github.com/FerretDB/dbtx/internal/util/debugbuild"
)

//go:generate ../../bin/stringer -linecomment -type ErrorKind

// ErrorKind represents a class of database errors.
type ErrorKind int

// Error kinds.
const (
	_ ErrorKind = iota

	ErrorKindConnection            // Connection
	ErrorKindQuery                 // Query
	ErrorKindConstraint            // Constraint
	ErrorKindSerializationConflict // SerializationConflict
	ErrorKindNotFound              // NotFound
	ErrorKindSyntax                // Syntax
	ErrorKindNotSupported          // NotSupported
)

// Error represents a backend error returned by all Backend, Conn, and Tx methods.
type Error struct {
	// driver's error; may be nil
	err error

	kind ErrorKind
}

// NewError creates a new backend error.
//
// Kind must not be 0. Err may be nil.
func NewError(kind ErrorKind, err error) *Error {
	if kind == 0 {
		panic("backends.NewError: kind must not be 0")
	}

	return &Error{
		kind: kind,
		err:  err,
	}
}

// Kind returns the error kind.
func (err *Error) Kind() ErrorKind {
	return err.kind
}

// Error implements error interface.
func (err *Error) Error() string {
	return fmt.Sprintf("%s: %v", err.kind, err.err)
}

// Unwrap returns the driver's error.
func (err *Error) Unwrap() error {
	return err.err
}

// ErrorKindIs returns true if err is or wraps *Error with one of the given kinds.
//
// At least one error kind must be given.
func ErrorKindIs(err error, kind ErrorKind, kinds ...ErrorKind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}

	return e.kind == kind || slices.Contains(kinds, e.kind)
}

// checkError enforces backend interfaces contracts.
//
// Err must be nil or *Error with a valid kind.
// If that's not the case, checkError panics in debug builds.
//
// It does nothing in non-debug builds.
func checkError(err error) {
	if !debugbuild.Enabled {
		return
	}

	if err == nil {
		return
	}

	var e *Error
	if !errors.As(err, &e) {
		panic(fmt.Sprintf("error is not classified: %v", err))
	}

	if e.kind <= 0 || e.kind > ErrorKindNotSupported {
		panic(fmt.Sprintf("invalid error kind: %v", err))
	}
}

// check interfaces
var (
	_ error = (*Error)(nil)
)
