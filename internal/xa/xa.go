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

// Package xa implements the resource manager side of two-phase commit.
//
// MySQL branches use XA statements. PostgreSQL branches use prepared transactions.
// SQLite does not support two-phase commit.
//
// This package never retries protocol commands and never resolves prepared branches on its own:
// only the external coordinator knows the global outcome.
package xa

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/FerretDB/dbtx/internal/backends"
)

// EscapeXid escapes a branch identifier for embedding into a single-quoted SQL literal.
//
// It is the only place where caller-supplied text is interpolated into protocol commands.
func EscapeXid(xid string) string {
	return strings.ReplaceAll(xid, "'", "''")
}

// NewXid returns a new random branch identifier.
func NewXid() string {
	return uuid.NewString()
}

// BranchInfo describes a prepared branch found by recovery.
type BranchInfo struct {
	Xid string

	// MySQL only
	FormatID    int64
	GtridLength int64
	BqualLength int64

	// PostgreSQL only
	Prepared time.Time
	Owner    string
	Database string
}

// String implements fmt.Stringer.
func (bi *BranchInfo) String() string {
	if bi.Prepared.IsZero() {
		return fmt.Sprintf("%s (format %d, gtrid %d, bqual %d)", bi.Xid, bi.FormatID, bi.GtridLength, bi.BqualLength)
	}

	return fmt.Sprintf("%s (prepared %s by %s in %s)", bi.Xid, bi.Prepared.Format(time.RFC3339), bi.Owner, bi.Database)
}

// Protocol renders two-phase commit commands for one database type.
type Protocol struct {
	t backends.DatabaseType
}

// NewProtocol returns the protocol for the given database type.
//
// SQLite is reported as *backends.Error with ErrorKindNotSupported.
func NewProtocol(t backends.DatabaseType) (*Protocol, error) {
	switch t {
	case backends.MySQL, backends.Postgres:
		return &Protocol{t: t}, nil
	default:
		err := fmt.Errorf("two-phase commit is not supported by %s", t)
		return nil, backends.NewError(backends.ErrorKindNotSupported, err)
	}
}

// literal returns the quoted xid.
func literal(xid string) string {
	return "'" + EscapeXid(xid) + "'"
}

// Start returns the command that starts a branch.
func (p *Protocol) Start(xid string) string {
	if p.t == backends.Postgres {
		return "BEGIN"
	}

	return "XA START " + literal(xid)
}

// End returns the command that ends the branch's active phase.
// It is empty for PostgreSQL.
func (p *Protocol) End(xid string) string {
	if p.t == backends.Postgres {
		return ""
	}

	return "XA END " + literal(xid)
}

// Prepare returns the command that prepares the branch.
func (p *Protocol) Prepare(xid string) string {
	if p.t == backends.Postgres {
		return "PREPARE TRANSACTION " + literal(xid)
	}

	return "XA PREPARE " + literal(xid)
}

// Commit returns the command that commits a prepared branch.
func (p *Protocol) Commit(xid string) string {
	if p.t == backends.Postgres {
		return "COMMIT PREPARED " + literal(xid)
	}

	return "XA COMMIT " + literal(xid)
}

// CommitOnePhase returns the command that commits an ended, not prepared branch.
func (p *Protocol) CommitOnePhase(xid string) string {
	if p.t == backends.Postgres {
		return "COMMIT"
	}

	return "XA COMMIT " + literal(xid) + " ONE PHASE"
}

// Rollback returns the command that rolls back a prepared branch.
func (p *Protocol) Rollback(xid string) string {
	if p.t == backends.Postgres {
		return "ROLLBACK PREPARED " + literal(xid)
	}

	return "XA ROLLBACK " + literal(xid)
}

// RollbackUnprepared returns the command that rolls back an ended, not prepared branch.
func (p *Protocol) RollbackUnprepared(xid string) string {
	if p.t == backends.Postgres {
		return "ROLLBACK"
	}

	return "XA ROLLBACK " + literal(xid)
}

// Recover returns the query that lists prepared branches.
func (p *Protocol) Recover() string {
	if p.t == backends.Postgres {
		return "SELECT gid, prepared, owner, database FROM pg_prepared_xacts ORDER BY prepared"
	}

	return "XA RECOVER"
}

// errUnexpectedRow is returned for recovery rows of unexpected shape.
var errUnexpectedRow = errors.New("unexpected recovery row")
