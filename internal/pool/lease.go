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
	"context"
	"sync/atomic"
	"time"

	"github.com/FerretDB/dbtx/internal/backends"
)

// Lease is a connection handed out by the pool.
//
// It must be returned with exactly one call to Pool.Release or Pool.Discard.
type Lease[C Closer] struct {
	e          *entry[C]
	owner      any
	conn       C
	id         uint64
	createdAt  time.Time
	lastUsedAt time.Time
	done       atomic.Bool
}

// ID returns the connection identifier, unique within the pool.
//
// Identifiers are assigned in increasing order of connection creation.
func (l *Lease[C]) ID() uint64 {
	return l.id
}

// CreatedAt returns the connection creation time.
func (l *Lease[C]) CreatedAt() time.Time {
	return l.createdAt
}

// LastUsedAt returns the time the connection was handed out by this lease.
func (l *Lease[C]) LastUsedAt() time.Time {
	return l.lastUsedAt
}

// Conn returns the leased connection.
func (l *Lease[C]) Conn() C {
	return l.conn
}

// ConnFactory returns a Factory that creates dedicated backend sessions.
func ConnFactory(b backends.Backend) Factory[backends.Conn] {
	return func(ctx context.Context) (backends.Conn, error) {
		return b.Conn(ctx)
	}
}
