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

// Package backends provides common interfaces and code for all SQL database backends.
//
// # Design principles
//
//  1. Interfaces are small and SQL-shaped: statements are plain SQL text with ordered [Value] parameters.
//     Dialect differences are handled by the query builder, not by the backends.
//  2. Backend objects are stateful and wrap a pool of physical connections.
//     [Conn] objects are dedicated sessions and should be closed.
//     [Tx] objects must be committed or rolled back.
//  3. Contexts are per-operation and should not be stored.
//  4. Errors returned by methods are nil or *Error (possibly wrapping the driver's error).
//     Every driver error is classified into an [ErrorKind].
//     Contracts enforce that in debug builds.
package backends
