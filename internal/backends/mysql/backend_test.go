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

package mysql

import (
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FerretDB/dbtx/internal/backends"
	"github.com/FerretDB/dbtx/internal/util/testutil"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	for name, tc := range map[string]struct {
		err  error
		kind backends.ErrorKind
	}{
		"Duplicate": {
			err:  &mysql.MySQLError{Number: errDuplicateEntry, Message: "Duplicate entry 'a' for key 'email'"},
			kind: backends.ErrorKindConstraint,
		},
		"Deadlock": {
			err:  &mysql.MySQLError{Number: errLockDeadlock, Message: "Deadlock found when trying to get lock"},
			kind: backends.ErrorKindSerializationConflict,
		},
		"LockWaitTimeout": {
			err:  &mysql.MySQLError{Number: errLockWaitTimeout, Message: "Lock wait timeout exceeded; try restarting transaction"},
			kind: backends.ErrorKindQuery,
		},
		"Syntax": {
			err:  &mysql.MySQLError{Number: errParse, Message: "You have an error in your SQL syntax"},
			kind: backends.ErrorKindSyntax,
		},
		"XA": {
			err:  &mysql.MySQLError{Number: errXAERNotA, Message: "XAER_NOTA: Unknown XID"},
			kind: backends.ErrorKindQuery,
		},
		"BadConn": {
			err:  fmt.Errorf("exec: %w", mysql.ErrInvalidConn),
			kind: backends.ErrorKindConnection,
		},
		"Other": {
			err:  errors.New("other"),
			kind: backends.ErrorKindQuery,
		},
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			e := classify(tc.err)
			assert.Equal(t, tc.kind, e.Kind())
			assert.ErrorIs(t, e, tc.err)
		})
	}
}

func TestBackend(t *testing.T) {
	t.Parallel()

	ctx := testutil.Ctx(t)

	b, err := NewBackend(&NewBackendParams{
		URI: testutil.MySQLURL(t),
		L:   testutil.Logger(t),
	})
	require.NoError(t, err)
	t.Cleanup(b.Close)

	assert.False(t, b.SupportsReturning())

	v, err := b.ServerVersion(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, v)

	row, err := b.FetchOne(ctx, "SELECT ? + 1 AS n", []backends.Value{backends.Int(41)})
	require.NoError(t, err)

	n, ok := row.Get("n")
	require.True(t, ok)
	assert.EqualValues(t, 42, n)
}
