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

package postgresql

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"testing"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FerretDB/dbtx/internal/backends"
	"github.com/FerretDB/dbtx/internal/util/state"
	"github.com/FerretDB/dbtx/internal/util/testutil"
)

func TestSetDefaultValues(t *testing.T) {
	t.Parallel()

	values := url.Values{
		"pool_max_conns": []string{"5"},
		"timezone":       []string{"Europe/Berlin"},
	}
	setDefaultValues(values)

	expected := url.Values{
		"pool_max_conns":   []string{"5"},
		"application_name": []string{"dbtx"},
		"timezone":         []string{"UTC"},
	}
	assert.Equal(t, expected, values)
}

func TestClassify(t *testing.T) {
	t.Parallel()

	for name, tc := range map[string]struct {
		err  error
		kind backends.ErrorKind
	}{
		"Unique": {
			err:  &pgconn.PgError{Code: pgerrcode.UniqueViolation},
			kind: backends.ErrorKindConstraint,
		},
		"NotNull": {
			err:  &pgconn.PgError{Code: pgerrcode.NotNullViolation},
			kind: backends.ErrorKindConstraint,
		},
		"Serialization": {
			err:  fmt.Errorf("commit: %w", &pgconn.PgError{Code: pgerrcode.SerializationFailure}),
			kind: backends.ErrorKindSerializationConflict,
		},
		"Deadlock": {
			err:  &pgconn.PgError{Code: pgerrcode.DeadlockDetected},
			kind: backends.ErrorKindQuery,
		},
		"Syntax": {
			err:  &pgconn.PgError{Code: pgerrcode.SyntaxError},
			kind: backends.ErrorKindSyntax,
		},
		"NotSupported": {
			err:  &pgconn.PgError{Code: pgerrcode.FeatureNotSupported},
			kind: backends.ErrorKindNotSupported,
		},
		"AdminShutdown": {
			err:  &pgconn.PgError{Code: pgerrcode.AdminShutdown},
			kind: backends.ErrorKindConnection,
		},
		"UndefinedObject": {
			err:  &pgconn.PgError{Code: pgerrcode.UndefinedObject},
			kind: backends.ErrorKindQuery,
		},
		"Deadline": {
			err:  fmt.Errorf("query: %w", context.DeadlineExceeded),
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

	sp, err := state.NewProvider("")
	require.NoError(t, err)

	b, err := NewBackend(&NewBackendParams{
		URI: testutil.PostgreSQLURL(t),
		L:   testutil.Logger(t),
		P:   sp,
	})
	require.NoError(t, err)
	t.Cleanup(b.Close)

	assert.Equal(t, backends.Postgres, b.Type())
	assert.True(t, b.SupportsReturning())

	v, err := b.ServerVersion(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, v)
	assert.Equal(t, "postgresql", sp.Get().Backend)

	table := fmt.Sprintf(`"test_%s"`, sanitize(t.Name()))

	_, err = b.Execute(ctx, `DROP TABLE IF EXISTS `+table, nil)
	require.NoError(t, err)

	_, err = b.Execute(ctx, `CREATE TABLE `+table+` (id bigint PRIMARY KEY, email text)`, nil)
	require.NoError(t, err)

	t.Cleanup(func() {
		_, _ = b.Execute(context.Background(), `DROP TABLE `+table, nil)
	})

	c, err := b.Conn(ctx)
	require.NoError(t, err)

	tx, err := c.Begin(ctx)
	require.NoError(t, err)

	res, err := tx.Execute(ctx, `INSERT INTO `+table+` (id, email) VALUES ($1, $2)`, []backends.Value{
		backends.Int(1), backends.String("a@example.com"),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.RowsAffected)
	require.NoError(t, tx.Commit(ctx))
	require.NoError(t, c.Close())

	row, err := b.FetchOne(ctx, `SELECT id, email FROM `+table+` WHERE id = $1`, []backends.Value{backends.Int(1)})
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "email"}, row.Columns)
	assert.Equal(t, []any{int64(1), "a@example.com"}, row.Values)

	_, err = b.Execute(ctx, `INSERT INTO `+table+` (id) VALUES ($1)`, []backends.Value{backends.Int(1)})
	assert.True(t, backends.ErrorKindIs(err, backends.ErrorKindConstraint), "%v", err)

	_, err = b.FetchOne(ctx, `SELECT id FROM `+table+` WHERE id = $1`, []backends.Value{backends.Int(2)})
	assert.True(t, backends.ErrorKindIs(err, backends.ErrorKindNotFound), "%v", err)
}

// sanitize replaces characters that are not valid in unquoted identifiers.
func sanitize(s string) string {
	b := []byte(s)
	for i, c := range b {
		if (c < 'a' || c > 'z') && (c < 'A' || c > 'Z') && (c < '0' || c > '9') {
			b[i] = '_'
		}
	}

	return string(b)
}
