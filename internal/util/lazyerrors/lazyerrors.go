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

// Package lazyerrors provides error wrapping that records the caller's location.
//
// Errors returned by this package are meant for logs and developers,
// not for matching: use [errors.Is] and [errors.As] for that.
package lazyerrors

import (
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
)

// located wraps an error with the program counter of the function that created it.
type located struct {
	err error
	pc  uintptr
}

// Error implements [error].
func (e located) Error() string {
	loc := location(e.pc)
	if loc == "" {
		return "[unknown] " + e.err.Error()
	}

	return "[" + loc + "] " + e.err.Error()
}

// Unwrap returns the wrapped error.
func (e located) Unwrap() error {
	return e.err
}

// New returns a new error with the given text and the caller's location.
func New(s string) error {
	return located{
		err: errors.New(s),
		pc:  caller(),
	}
}

// Error wraps err with the caller's location.
//
// It panics if err is nil.
func Error(err error) error {
	if err == nil {
		panic("err is nil")
	}

	return located{
		err: err,
		pc:  caller(),
	}
}

// Errorf is like [fmt.Errorf], but adds the caller's location.
func Errorf(format string, a ...any) error {
	return located{
		err: fmt.Errorf(format, a...),
		pc:  caller(),
	}
}

// UnwrapAll returns the innermost error of the chain, or nil if err is nil.
func UnwrapAll(err error) error {
	for err != nil {
		next := errors.Unwrap(err)
		if next == nil {
			break
		}

		err = next
	}

	return err
}

// caller returns the program counter of the function that called New, Error or Errorf.
func caller() uintptr {
	var pcs [1]uintptr

	// skip runtime.Callers, caller, and the exported function
	if runtime.Callers(3, pcs[:]) == 0 {
		return 0
	}

	return pcs[0]
}

// location formats pc as "file.go:line pkg.Func".
func location(pc uintptr) string {
	if pc == 0 {
		return ""
	}

	f, _ := runtime.CallersFrames([]uintptr{pc}).Next()
	if f.File == "" {
		return ""
	}

	res := filepath.Base(f.File) + ":" + strconv.Itoa(f.Line)

	if f.Function != "" {
		res += " " + f.Function[strings.LastIndex(f.Function, "/")+1:]
	}

	return res
}
