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

package resource

import (
	"runtime/pprof"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tracked struct {
	token *Token
}

type untokened struct {
	other *Token
}

func count(obj any) int {
	if p := pprof.Lookup(profileName(obj)); p != nil {
		return p.Count()
	}

	return 0
}

func TestTrack(t *testing.T) {
	obj := &tracked{token: NewToken()}
	before := count(obj)

	Track(obj, obj.token)
	assert.Equal(t, before+1, count(obj))

	Untrack(obj, obj.token)
	assert.Equal(t, before, count(obj))

	// second call is a no-op
	Untrack(obj, obj.token)
	assert.Equal(t, before, count(obj))
}

func TestCheckArgs(t *testing.T) {
	t.Parallel()

	require.Panics(t, func() {
		obj := &tracked{token: NewToken()}
		Track(obj, nil)
	})

	require.Panics(t, func() {
		obj := &untokened{other: NewToken()}
		Track(obj, obj.other)
	})

	require.Panics(t, func() {
		obj := &tracked{token: NewToken()}
		Track(obj, NewToken())
	})
}
