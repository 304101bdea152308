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

	"github.com/FerretDB/dbtx/internal/util/lazyerrors"
)

//go:generate ../../bin/stringer -linecomment -type Strategy

// Strategy selects how connections are handed out and reused.
type Strategy int

// Strategies.
const (
	_ Strategy = iota

	// Queue keeps up to MaxSize connections and hands out idle ones in FIFO order.
	// Acquire fails with MaxConnectionsReached when all of them are leased.
	Queue // queue

	// Null creates a new connection for every Acquire and closes it on Release.
	Null // null

	// Static shares one lazily created connection between all callers.
	Static // static

	// PerOwner keeps one connection per owner key set with WithOwner.
	PerOwner // per-owner

	// AsyncQueue is Queue that waits in FIFO order for a released connection
	// until the context is done instead of failing immediately.
	AsyncQueue // async-queue
)

// Strategies returns all strategies in declaration order.
func Strategies() []Strategy {
	return []Strategy{Queue, Null, Static, PerOwner, AsyncQueue}
}

// ParseStrategy returns the strategy with the given name.
func ParseStrategy(s string) (Strategy, error) {
	for _, st := range Strategies() {
		if st.String() == s {
			return st, nil
		}
	}

	return 0, lazyerrors.Errorf("unknown pool strategy %q", s)
}

// ownerKey is the context key type for owner identity.
type ownerKey struct{}

// WithOwner returns a context carrying the given owner key for the PerOwner strategy.
//
// Goroutines have no identity in Go, so callers pick the key: a worker index,
// a request ID, or a pointer to some long-lived object. Key must be comparable;
// Acquire rejects slices, maps and functions.
// All calls with the same key share one connection.
func WithOwner(ctx context.Context, owner any) context.Context {
	return context.WithValue(ctx, ownerKey{}, owner)
}

// OwnerFromContext returns the owner key set with WithOwner.
func OwnerFromContext(ctx context.Context) (any, bool) {
	owner := ctx.Value(ownerKey{})
	return owner, owner != nil
}
