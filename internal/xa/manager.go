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

package xa

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/AlekSi/pointer"
	"go.uber.org/zap"

	"github.com/FerretDB/dbtx/internal/backends"
	"github.com/FerretDB/dbtx/internal/pool"
	"github.com/FerretDB/dbtx/internal/util/lazyerrors"
	"github.com/FerretDB/dbtx/internal/util/resource"
	"github.com/FerretDB/dbtx/internal/util/state"
)

// Manager runs branches on pooled connections.
//
// The pool may be shared with ordinary transactions; a connection is not
// returned to it while it holds an unfinished branch.
type Manager struct {
	p *pool.Pool[backends.Conn]
	t backends.DatabaseType
	l *zap.Logger
	s *state.Provider
}

// NewOpts represents the parameters of NewManager function.
//
//nolint:vet // for readability
type NewOpts struct {
	Pool *pool.Pool[backends.Conn]
	Type backends.DatabaseType
	L    *zap.Logger
	P    *state.Provider // optional
}

// NewManager creates a new manager.
func NewManager(opts *NewOpts) (*Manager, error) {
	if opts.Pool == nil {
		return nil, lazyerrors.New("pool is not set")
	}

	if _, err := NewProtocol(opts.Type); err != nil {
		return nil, err
	}

	l := opts.L
	if l == nil {
		l = zap.NewNop()
	}

	return &Manager{
		p: opts.Pool,
		t: opts.Type,
		l: l.Named("xa"),
		s: opts.P,
	}, nil
}

// withConn runs f with a participant on a pooled connection.
func (m *Manager) withConn(ctx context.Context, f func(p *Participant) error) error {
	lease, err := m.p.Acquire(ctx)
	if err != nil {
		return lazyerrors.Error(err)
	}

	p, err := NewParticipant(lease.Conn(), m.t, m.l)
	if err != nil {
		m.p.Release(lease)
		return err
	}

	err = f(p)

	if backends.ErrorKindIs(err, backends.ErrorKindConnection) {
		m.p.Discard(lease)
	} else {
		m.p.Release(lease)
	}

	return err
}

// Begin leases a connection and starts a branch on it.
//
// The returned branch owns the connection until it is finished or released.
func (m *Manager) Begin(ctx context.Context, xid string) (*Branch, error) {
	lease, err := m.p.Acquire(ctx)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	p, err := NewParticipant(lease.Conn(), m.t, m.l.With(zap.String("xid", xid)))
	if err != nil {
		m.p.Release(lease)
		return nil, err
	}

	if err = p.Start(ctx, xid); err != nil {
		if backends.ErrorKindIs(err, backends.ErrorKindConnection) {
			m.p.Discard(lease)
		} else {
			m.p.Release(lease)
		}

		return nil, err
	}

	b := &Branch{
		m:     m,
		p:     p,
		lease: lease,
		xid:   xid,
		state: branchActive,
		token: resource.NewToken(),
	}
	resource.Track(b, b.token)

	return b, nil
}

// Recover lists prepared branches for the external coordinator.
func (m *Manager) Recover(ctx context.Context) ([]BranchInfo, error) {
	var res []BranchInfo

	err := m.withConn(ctx, func(p *Participant) error {
		var err error
		res, err = p.ListPrepared(ctx)

		return err
	})
	if err != nil {
		return nil, err
	}

	m.l.Info("Prepared branches listed", zap.Int("count", len(res)))

	if m.s != nil {
		if err = m.s.Update(func(s *state.State) { s.LastRecovery = pointer.ToTime(time.Now()) }); err != nil {
			m.l.Warn("Failed to update state", zap.Error(err))
		}
	}

	return res, nil
}

// Find returns the prepared branch with the given xid, or nil if there is none.
func (m *Manager) Find(ctx context.Context, xid string) (*BranchInfo, error) {
	var res *BranchInfo

	err := m.withConn(ctx, func(p *Participant) error {
		var err error
		res, err = p.FindPrepared(ctx, xid)

		return err
	})

	return res, err
}

// CommitPrepared commits a prepared branch on any pooled connection.
func (m *Manager) CommitPrepared(ctx context.Context, xid string) error {
	return m.withConn(ctx, func(p *Participant) error {
		return p.Commit(ctx, xid)
	})
}

// RollbackPrepared rolls back a prepared branch on any pooled connection.
func (m *Manager) RollbackPrepared(ctx context.Context, xid string) error {
	return m.withConn(ctx, func(p *Participant) error {
		return p.Rollback(ctx, xid)
	})
}

// branchState represents the local state of a branch.
type branchState int

const (
	branchActive branchState = iota
	branchEnded
	branchPrepared
	branchDone
)

// String implements fmt.Stringer.
func (s branchState) String() string {
	switch s {
	case branchActive:
		return "active"
	case branchEnded:
		return "ended"
	case branchPrepared:
		return "prepared"
	case branchDone:
		return "done"
	default:
		return fmt.Sprintf("branchState(%d)", int(s))
	}
}

// Branch is a branch started by Manager on a leased connection.
//
// Branch methods must not be called concurrently.
type Branch struct {
	m     *Manager
	p     *Participant
	lease *pool.Lease[backends.Conn]
	token *resource.Token

	rw    sync.Mutex
	xid   string
	state branchState
}

// Xid returns the branch identifier.
func (b *Branch) Xid() string {
	return b.xid
}

// Conn returns the connection for statements of the branch.
//
// It must not be used for BEGIN/COMMIT, or after the branch is finished or released.
func (b *Branch) Conn() backends.Conn {
	return b.lease.Conn()
}

// step checks the branch state, runs the command, and moves the branch to the next state.
func (b *Branch) step(ctx context.Context, from []branchState, to branchState, f func(context.Context, string) error) error {
	b.rw.Lock()
	defer b.rw.Unlock()

	if b.lease == nil {
		return lazyerrors.Errorf("branch %q is released", b.xid)
	}

	allowed := false

	for _, s := range from {
		if b.state == s {
			allowed = true
			break
		}
	}

	if !allowed {
		return lazyerrors.Errorf("branch %q is %s, expected %v", b.xid, b.state, from)
	}

	if err := f(ctx, b.xid); err != nil {
		if backends.ErrorKindIs(err, backends.ErrorKindConnection) {
			b.m.p.Discard(b.lease)
			b.untrack()
		}

		return err
	}

	b.state = to

	if to == branchDone {
		b.m.p.Release(b.lease)
		b.untrack()
	}

	return nil
}

// untrack forgets the lease.
func (b *Branch) untrack() {
	b.lease = nil
	resource.Untrack(b, b.token)
}

// End ends the active phase.
func (b *Branch) End(ctx context.Context) error {
	return b.step(ctx, []branchState{branchActive}, branchEnded, b.p.End)
}

// Prepare prepares the ended branch.
func (b *Branch) Prepare(ctx context.Context) error {
	return b.step(ctx, []branchState{branchEnded}, branchPrepared, b.p.Prepare)
}

// Commit commits the prepared branch and returns the connection to the pool.
func (b *Branch) Commit(ctx context.Context) error {
	return b.step(ctx, []branchState{branchPrepared}, branchDone, b.p.Commit)
}

// CommitOnePhase commits the ended branch without preparing it
// and returns the connection to the pool.
func (b *Branch) CommitOnePhase(ctx context.Context) error {
	return b.step(ctx, []branchState{branchEnded}, branchDone, b.p.CommitOnePhase)
}

// Rollback rolls back the branch and returns the connection to the pool.
//
// An active branch is ended first.
func (b *Branch) Rollback(ctx context.Context) error {
	b.rw.Lock()
	s := b.state
	b.rw.Unlock()

	switch s {
	case branchActive:
		if err := b.End(ctx); err != nil {
			return err
		}

		fallthrough

	case branchEnded:
		return b.step(ctx, []branchState{branchEnded}, branchDone, b.p.rollbackUnprepared)

	default:
		return b.step(ctx, []branchState{branchPrepared}, branchDone, b.p.Rollback)
	}
}

// Release gives up the branch's connection without finishing the branch.
//
// A connection with an unprepared branch is closed, so the backend rolls the branch back.
// A prepared branch survives for recovery: PostgreSQL connections return to the pool,
// MySQL connections are closed since the session can't be reused while it holds a prepared branch.
// It does nothing for finished or already released branches.
func (b *Branch) Release() {
	b.rw.Lock()
	defer b.rw.Unlock()

	if b.lease == nil {
		return
	}

	if b.state == branchPrepared && b.m.t == backends.Postgres {
		b.m.p.Release(b.lease)
	} else {
		b.m.l.Debug("Closing branch connection", zap.String("xid", b.xid), zap.Stringer("state", b.state))
		b.m.p.Discard(b.lease)
	}

	b.untrack()
}
