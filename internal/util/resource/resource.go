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

// Package resource provides utilities for tracking resource lifetimes.
//
// Pooled connections, leases and branches are tracked so that objects
// garbage-collected without being closed or released are reported loudly.
package resource

import (
	"fmt"
	"reflect"
	"runtime"
	"runtime/pprof"
	"sync"
	"unsafe"

	"github.com/FerretDB/dbtx/internal/util/debugbuild"
)

// Token should be a field of a tracked object.
type Token struct {
	_ [1]byte // a zero-size struct could share its address with another one
}

// NewToken returns a new Token.
func NewToken() *Token {
	return new(Token)
}

// profilesM protects profile creation.
var profilesM sync.Mutex

// profileName returns pprof profile name for the given object.
func profileName(obj any) string {
	return "dbtx/" + reflect.TypeOf(obj).Elem().String()
}

// profile returns an existing or new pprof profile for the given object.
func profile(obj any) *pprof.Profile {
	name := profileName(obj)

	if p := pprof.Lookup(name); p != nil {
		return p
	}

	profilesM.Lock()
	defer profilesM.Unlock()

	if p := pprof.Lookup(name); p != nil {
		return p
	}

	return pprof.NewProfile(name)
}

// Track tracks the lifetime of an object until Untrack is called on it.
//
// Obj should be a pointer to a struct with a field "token" of type *Token.
// If obj is garbage-collected while still tracked, the program panics.
func Track[T any](obj *T, token *Token) {
	checkArgs(obj, token)

	// use token instead of obj itself,
	// because otherwise profile will hold a reference to obj and finalizer will never run
	profile(obj).Add(token, 1)

	msg := fmt.Sprintf("%T has not been finalized", obj)
	if stack := debugbuild.Stack(); stack != nil {
		msg += "\nObject created by " + string(stack)
	}

	runtime.SetFinalizer(obj, func(*T) {
		panic(msg)
	})
}

// Untrack stops tracking the lifetime of an object.
//
// It is safe to call this function multiple times.
func Untrack[T any](obj *T, token *Token) {
	checkArgs(obj, token)

	runtime.SetFinalizer(obj, nil)

	profile(obj).Remove(token)
}

// checkArgs checks Track and Untrack arguments.
func checkArgs(obj any, token *Token) {
	if token == nil {
		panic("token must not be nil")
	}

	pv := reflect.ValueOf(obj)
	if pv.Kind() != reflect.Ptr || pv.IsNil() {
		panic(fmt.Sprintf("obj must be a non-nil pointer to struct, got %T", obj))
	}

	v := pv.Elem()
	if v.Kind() != reflect.Struct {
		panic(fmt.Sprintf("obj must be a pointer to struct, got %T", obj))
	}

	f := v.FieldByName("token")
	if f.Kind() != reflect.Ptr || f.UnsafePointer() != unsafe.Pointer(token) {
		panic("token must be a pointer field of a struct")
	}
}
