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

package backends

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError(t *testing.T) {
	t.Parallel()

	driverErr := errors.New("ERROR: could not serialize access (SQLSTATE 40001)")
	err := NewError(ErrorKindSerializationConflict, driverErr)

	assert.Equal(t, "SerializationConflict: ERROR: could not serialize access (SQLSTATE 40001)", err.Error())
	assert.Equal(t, ErrorKindSerializationConflict, err.Kind())
	assert.ErrorIs(t, err, driverErr)

	assert.True(t, ErrorKindIs(err, ErrorKindSerializationConflict))
	assert.True(t, ErrorKindIs(err, ErrorKindQuery, ErrorKindSerializationConflict))
	assert.False(t, ErrorKindIs(err, ErrorKindQuery))
	assert.False(t, ErrorKindIs(driverErr, ErrorKindQuery))

	wrapped := fmt.Errorf("wrapped: %w", err)
	assert.True(t, ErrorKindIs(wrapped, ErrorKindSerializationConflict))

	assert.Equal(t, "ErrorKind(42)", ErrorKind(42).String())

	require.Panics(t, func() { NewError(0, nil) })
}

func TestValue(t *testing.T) {
	t.Parallel()

	u := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	for name, tc := range map[string]struct {
		v        Value
		goString string
		pg       any
		mysql    any
	}{
		"Null": {
			v:        Null(),
			goString: "Null",
		},
		"Bool": {
			v:        Bool(true),
			goString: "Bool(true)",
			pg:       true,
			mysql:    int64(1),
		},
		"Int": {
			v:        Int(42),
			goString: "Int(42)",
			pg:       int64(42),
			mysql:    int64(42),
		},
		"Float": {
			v:        Float(1.5),
			goString: "Float(1.5)",
			pg:       1.5,
			mysql:    1.5,
		},
		"String": {
			v:        String("it's"),
			goString: `String("it's")`,
			pg:       "it's",
			mysql:    "it's",
		},
		"Bytes": {
			v:        Bytes([]byte{0xca, 0xfe}),
			goString: "Bytes(cafe)",
			pg:       []byte{0xca, 0xfe},
			mysql:    []byte{0xca, 0xfe},
		},
		"Timestamp": {
			v:        Timestamp(ts),
			goString: "Timestamp(2024-01-02T03:04:05Z)",
			pg:       ts,
			mysql:    ts,
		},
		"UUID": {
			v:        UUID(u),
			goString: "UUID(6ba7b810-9dad-11d1-80b4-00c04fd430c8)",
			pg:       [16]byte(u),
			mysql:    "6ba7b810-9dad-11d1-80b4-00c04fd430c8",
		},
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tc.goString, tc.v.GoString())

			pg, err := tc.v.Arg(Postgres)
			require.NoError(t, err)
			assert.Equal(t, tc.pg, pg)

			mysql, err := tc.v.Arg(MySQL)
			require.NoError(t, err)
			assert.Equal(t, tc.mysql, mysql)
		})
	}

	t.Run("Now", func(t *testing.T) {
		t.Parallel()

		assert.True(t, Now().IsNow())
		assert.Equal(t, "Now", Now().GoString())

		_, err := Args(SQLite, []Value{Int(1), Now()})
		assert.True(t, ErrorKindIs(err, ErrorKindQuery))
	})
}

func TestRow(t *testing.T) {
	t.Parallel()

	row := &Row{
		Columns: []string{"id", "email"},
		Values:  []any{int64(1), "a@example.com"},
	}

	v, ok := row.Get("email")
	assert.True(t, ok)
	assert.Equal(t, "a@example.com", v)

	_, ok = row.Get("name")
	assert.False(t, ok)
}

func TestDialect(t *testing.T) {
	t.Parallel()

	pg := NewDialect(Postgres)
	assert.True(t, pg.SupportsReturning())
	assert.True(t, pg.SupportsOnConflict())

	mysql := NewDialect(MySQL)
	assert.False(t, mysql.SupportsReturning())
	assert.True(t, mysql.SupportsOnConflict())

	sqlite := NewDialect(SQLite)
	assert.True(t, sqlite.SupportsReturning())
	assert.True(t, sqlite.SupportsOnConflict())

	assert.Equal(t, "postgresql", Postgres.String())
	assert.Equal(t, "mysql", MySQL.String())
	assert.Equal(t, "sqlite", SQLite.String())

	assert.False(t, IsCockroachDB(pg))
}
