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

package lazyerrors

import (
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocation(t *testing.T) {
	t.Parallel()

	err := New("boom")
	assert.Regexp(t, `^\[lazyerrors_test.go:\d+ lazyerrors.TestLocation\] boom$`, err.Error())

	err = Errorf("read: %w", io.EOF)
	assert.Regexp(t, `^\[lazyerrors_test.go:\d+ lazyerrors.TestLocation\] read: EOF$`, err.Error())
	assert.ErrorIs(t, err, io.EOF)

	err = Error(io.ErrUnexpectedEOF)
	assert.Regexp(t, `^\[lazyerrors_test.go:\d+ lazyerrors.TestLocation\] unexpected EOF$`, err.Error())
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestChain(t *testing.T) {
	t.Parallel()

	base := errors.New("base")
	err1 := Error(base)
	err2 := Errorf("two: %w", err1)

	assert.ErrorIs(t, err2, err1)
	assert.ErrorIs(t, err2, base)
	assert.Equal(t, base, UnwrapAll(err2))
	assert.Nil(t, UnwrapAll(nil))
	assert.Equal(t, base, UnwrapAll(base))
}

func TestErrorNil(t *testing.T) {
	t.Parallel()

	require.Panics(t, func() { _ = Error(nil) })
}

var drain error

func BenchmarkNew(b *testing.B) {
	for i := 0; i < b.N; i++ {
		drain = New("err")
	}

	b.StopTimer()

	assert.NotNil(b, drain)
}
