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

package logging

import (
	"testing"

	"github.com/jackc/pgx/v5/tracelog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewConfig(t *testing.T) {
	t.Parallel()

	for _, format := range []string{"console", "json"} {
		config, err := NewConfig(zapcore.WarnLevel, format)
		require.NoError(t, err)
		assert.Equal(t, format, config.Encoding)
		assert.Equal(t, zapcore.WarnLevel, config.Level.Level())

		_, err = config.Build()
		require.NoError(t, err)
	}

	_, err := NewConfig(zapcore.InfoLevel, "xml")
	assert.EqualError(t, err, `unexpected log format "xml"`)
}

func TestPgxTracer(t *testing.T) {
	t.Parallel()

	tracer := PgxTracer(zap.NewNop())
	assert.Equal(t, tracelog.LogLevelTrace, tracer.LogLevel)
	assert.NotNil(t, tracer.Logger)
}
