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
	"slices"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/FerretDB/dbtx/internal/backends"
	"github.com/FerretDB/dbtx/internal/util/lazyerrors"
	"github.com/FerretDB/dbtx/internal/util/observability"
)

// Participant issues two-phase commit commands over a single querier.
//
// It keeps no branch state: each method issues exactly one statement (End issues none for PostgreSQL),
// and backend errors are returned as they are.
// Start, End, Prepare, and CommitOnePhase must run on the same session, usually a dedicated backends.Conn.
type Participant struct {
	q backends.Querier
	p *Protocol
	l *zap.Logger
}

// NewParticipant creates a new participant for the given querier and database type.
func NewParticipant(q backends.Querier, t backends.DatabaseType, l *zap.Logger) (*Participant, error) {
	p, err := NewProtocol(t)
	if err != nil {
		return nil, err
	}

	if l == nil {
		l = zap.NewNop()
	}

	return &Participant{
		q: q,
		p: p,
		l: l,
	}, nil
}

// exec executes a single protocol command.
func (p *Participant) exec(ctx context.Context, sql string) error {
	defer observability.FuncCall(ctx)()

	if sql == "" {
		return nil
	}

	p.l.Debug("XA command", zap.String("sql", sql))

	if _, err := p.q.Execute(ctx, sql, nil); err != nil {
		return lazyerrors.Error(err)
	}

	return nil
}

// Start starts a branch on the current session.
func (p *Participant) Start(ctx context.Context, xid string) error {
	return p.exec(ctx, p.p.Start(xid))
}

// End ends the active phase of a branch.
func (p *Participant) End(ctx context.Context, xid string) error {
	return p.exec(ctx, p.p.End(xid))
}

// Prepare prepares an ended branch.
func (p *Participant) Prepare(ctx context.Context, xid string) error {
	return p.exec(ctx, p.p.Prepare(xid))
}

// Commit commits a prepared branch. It may run on any session.
func (p *Participant) Commit(ctx context.Context, xid string) error {
	return p.exec(ctx, p.p.Commit(xid))
}

// CommitOnePhase commits an ended branch without a separate prepare round-trip.
//
// It is valid only when no other branch of the same global transaction needs to vote.
func (p *Participant) CommitOnePhase(ctx context.Context, xid string) error {
	return p.exec(ctx, p.p.CommitOnePhase(xid))
}

// Rollback rolls back a prepared branch. It may run on any session.
func (p *Participant) Rollback(ctx context.Context, xid string) error {
	return p.exec(ctx, p.p.Rollback(xid))
}

// rollbackUnprepared rolls back an ended branch on its session.
func (p *Participant) rollbackUnprepared(ctx context.Context, xid string) error {
	return p.exec(ctx, p.p.RollbackUnprepared(xid))
}

// ListPrepared returns prepared branches known to the backend.
//
// MySQL branches are sorted by xid, PostgreSQL branches by preparation time.
func (p *Participant) ListPrepared(ctx context.Context) ([]BranchInfo, error) {
	defer observability.FuncCall(ctx)()

	sql := p.p.Recover()
	p.l.Debug("XA command", zap.String("sql", sql))

	rows, err := p.q.FetchAll(ctx, sql, nil)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	res := make([]BranchInfo, 0, len(rows))

	for _, row := range rows {
		var bi *BranchInfo

		if p.p.t == backends.Postgres {
			bi, err = postgresBranch(row)
		} else {
			bi, err = mysqlBranch(row)
		}

		if err != nil {
			return nil, lazyerrors.Error(err)
		}

		res = append(res, *bi)
	}

	if p.p.t == backends.MySQL {
		slices.SortFunc(res, func(a, b BranchInfo) int { return strings.Compare(a.Xid, b.Xid) })
	}

	return res, nil
}

// FindPrepared returns the prepared branch with the given xid, or nil if there is none.
func (p *Participant) FindPrepared(ctx context.Context, xid string) (*BranchInfo, error) {
	branches, err := p.ListPrepared(ctx)
	if err != nil {
		return nil, err
	}

	for _, bi := range branches {
		if bi.Xid == xid {
			return &bi, nil
		}
	}

	return nil, nil
}

// mysqlBranch converts a row of XA RECOVER.
func mysqlBranch(row *backends.Row) (*BranchInfo, error) {
	var bi BranchInfo
	var err error

	for col, dst := range map[string]*int64{
		"formatID":     &bi.FormatID,
		"gtrid_length": &bi.GtridLength,
		"bqual_length": &bi.BqualLength,
	} {
		v, _ := row.Get(col)
		if *dst, err = toInt64(v); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", errUnexpectedRow, col, err)
		}
	}

	v, _ := row.Get("data")
	if bi.Xid, err = toString(v); err != nil {
		return nil, fmt.Errorf("%w: data: %w", errUnexpectedRow, err)
	}

	return &bi, nil
}

// postgresBranch converts a row of pg_prepared_xacts.
func postgresBranch(row *backends.Row) (*BranchInfo, error) {
	var bi BranchInfo
	var err error

	for col, dst := range map[string]*string{
		"gid":      &bi.Xid,
		"owner":    &bi.Owner,
		"database": &bi.Database,
	} {
		v, _ := row.Get(col)
		if *dst, err = toString(v); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", errUnexpectedRow, col, err)
		}
	}

	v, _ := row.Get("prepared")

	prepared, ok := v.(time.Time)
	if !ok {
		return nil, fmt.Errorf("%w: prepared: %T", errUnexpectedRow, v)
	}

	bi.Prepared = prepared

	return &bi, nil
}

// toInt64 converts integer column values of different drivers.
func toInt64(v any) (int64, error) {
	switch v := v.(type) {
	case int64:
		return v, nil
	case int32:
		return int64(v), nil
	case int:
		return int64(v), nil
	case []byte:
		return strconv.ParseInt(string(v), 10, 64)
	case string:
		return strconv.ParseInt(v, 10, 64)
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}

// toString converts text column values of different drivers.
func toString(v any) (string, error) {
	switch v := v.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	default:
		return "", fmt.Errorf("unexpected type %T", v)
	}
}
