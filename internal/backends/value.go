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
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// ValueKind represents a kind of Value.
type ValueKind int

// Value kinds.
const (
	KindNull ValueKind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindBytes
	KindTimestamp
	KindUUID

	// KindNow is a sentinel compiled into the dialect's current timestamp function.
	// It is never bound as a parameter.
	KindNow
)

// Value is a statement parameter.
//
// The zero value is SQL NULL.
type Value struct {
	v    any
	kind ValueKind
}

// Null returns SQL NULL value.
func Null() Value { return Value{} }

// Bool returns boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, v: b} }

// Int returns integer value.
func Int(i int64) Value { return Value{kind: KindInt, v: i} }

// Float returns floating point value.
func Float(f float64) Value { return Value{kind: KindFloat, v: f} }

// String returns text value.
func String(s string) Value { return Value{kind: KindString, v: s} }

// Bytes returns binary value.
func Bytes(b []byte) Value { return Value{kind: KindBytes, v: b} }

// Timestamp returns timestamp value.
func Timestamp(t time.Time) Value { return Value{kind: KindTimestamp, v: t} }

// UUID returns UUID value.
func UUID(u uuid.UUID) Value { return Value{kind: KindUUID, v: u} }

// Now returns the current timestamp sentinel.
func Now() Value { return Value{kind: KindNow} }

// Kind returns value's kind.
func (v Value) Kind() ValueKind {
	return v.kind
}

// IsNow returns true for the current timestamp sentinel.
func (v Value) IsNow() bool {
	return v.kind == KindNow
}

// GoString implements [fmt.GoStringer].
func (v Value) GoString() string {
	switch v.kind {
	case KindNull:
		return "Null"
	case KindBool:
		return "Bool(" + strconv.FormatBool(v.v.(bool)) + ")"
	case KindInt:
		return "Int(" + strconv.FormatInt(v.v.(int64), 10) + ")"
	case KindFloat:
		return "Float(" + strconv.FormatFloat(v.v.(float64), 'g', -1, 64) + ")"
	case KindString:
		return "String(" + strconv.Quote(v.v.(string)) + ")"
	case KindBytes:
		return fmt.Sprintf("Bytes(%x)", v.v.([]byte))
	case KindTimestamp:
		return "Timestamp(" + v.v.(time.Time).Format(time.RFC3339Nano) + ")"
	case KindUUID:
		return "UUID(" + v.v.(uuid.UUID).String() + ")"
	case KindNow:
		return "Now"
	default:
		panic(fmt.Sprintf("unexpected value kind %d", v.kind))
	}
}

// Arg returns the value in the form accepted by the given database driver.
func (v Value) Arg(t DatabaseType) (any, error) {
	switch v.kind {
	case KindNow:
		return nil, NewError(ErrorKindQuery, fmt.Errorf("current timestamp sentinel can't be bound as a parameter"))

	case KindUUID:
		u := v.v.(uuid.UUID)
		if t == Postgres {
			return [16]byte(u), nil
		}

		return u.String(), nil

	case KindBool:
		// MySQL has no boolean type, SQLite stores booleans as integers
		if t != Postgres {
			if v.v.(bool) {
				return int64(1), nil
			}

			return int64(0), nil
		}

		return v.v, nil

	default:
		return v.v, nil
	}
}

// Args converts parameters with Arg.
func Args(t DatabaseType, params []Value) ([]any, error) {
	res := make([]any, len(params))

	for i, p := range params {
		var err error
		if res[i], err = p.Arg(t); err != nil {
			return nil, err
		}
	}

	return res, nil
}

// check interfaces
var (
	_ fmt.GoStringer = Value{}
)
