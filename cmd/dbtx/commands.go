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

package main

import (
	"context"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/FerretDB/dbtx/internal/backends"
	"github.com/FerretDB/dbtx/internal/pool"
	"github.com/FerretDB/dbtx/internal/retry"
	"github.com/FerretDB/dbtx/internal/util/lazyerrors"
	"github.com/FerretDB/dbtx/internal/util/state"
	"github.com/FerretDB/dbtx/internal/xa"
)

// cmdOpts represents common parameters of commands.
type cmdOpts struct {
	b     backends.Backend
	p     *pool.Pool[backends.Conn]
	r     prometheus.Registerer // optional
	l     *zap.Logger
	s     *state.Provider // optional
	retry *retry.Config
}

// ping runs `SELECT 1` on a pooled connection and prints backend information.
func ping(ctx context.Context, w io.Writer, opts *cmdOpts) error {
	lease, err := opts.p.Acquire(ctx)
	if err != nil {
		return err
	}

	c := retry.NewCoordinator(lease.Conn(), opts.retry, opts.l)
	if opts.r != nil {
		opts.r.MustRegister(c)
	}

	res, err := retry.ExecuteWithRetry(ctx, c, func(ctx context.Context, tx backends.Tx) (any, error) {
		row, err := tx.FetchOne(ctx, "SELECT 1", nil)
		if err != nil {
			return nil, err
		}

		return row.Values[0], nil
	})
	if err != nil {
		if backends.ErrorKindIs(err, backends.ErrorKindConnection) {
			opts.p.Discard(lease)
		} else {
			opts.p.Release(lease)
		}

		return err
	}

	opts.p.Release(lease)

	opts.l.Debug("Ping result", zap.Any("result", res))

	v, err := opts.b.ServerVersion(ctx)
	if err != nil {
		return err
	}

	kind := opts.b.Type().String()
	if backends.IsCockroachDB(opts.b) {
		kind = "cockroachdb"
	}

	_, err = fmt.Fprintf(w, "%s %s (pool %s)\n", kind, v, opts.p.Strategy())

	return err
}

// newManager creates a branch manager for the backend.
func newManager(opts *cmdOpts) (*xa.Manager, error) {
	return xa.NewManager(&xa.NewOpts{
		Pool: opts.p,
		Type: opts.b.Type(),
		L:    opts.l,
		P:    opts.s,
	})
}

// xaRecover prints prepared branches, one per line.
func xaRecover(ctx context.Context, w io.Writer, opts *cmdOpts) error {
	m, err := newManager(opts)
	if err != nil {
		return err
	}

	branches, err := m.Recover(ctx)
	if err != nil {
		return err
	}

	for _, bi := range branches {
		if _, err = fmt.Fprintln(w, bi.String()); err != nil {
			return lazyerrors.Error(err)
		}
	}

	return nil
}

// xaCommit commits a prepared branch.
func xaCommit(ctx context.Context, opts *cmdOpts, xid string) error {
	m, err := newManager(opts)
	if err != nil {
		return err
	}

	if err = m.CommitPrepared(ctx, xid); err != nil {
		return err
	}

	opts.l.Info("Branch committed", zap.String("xid", xid))

	return nil
}

// xaRollback rolls back a prepared branch.
func xaRollback(ctx context.Context, opts *cmdOpts, xid string) error {
	m, err := newManager(opts)
	if err != nil {
		return err
	}

	if err = m.RollbackPrepared(ctx, xid); err != nil {
		return err
	}

	opts.l.Info("Branch rolled back", zap.String("xid", xid))

	return nil
}
