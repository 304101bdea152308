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

package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alecthomas/kong"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestYAMLLoader(t *testing.T) {
	t.Parallel()

	f := filepath.Join(t.TempDir(), "dbtx.yml")
	config := strings.Join([]string{
		"backend: sqlite",
		"pool:",
		"  strategy: per-owner",
		"  max_size: 5",
		"retry:",
		"  base-delay: 250ms",
		"",
	}, "\n")
	require.NoError(t, os.WriteFile(f, []byte(config), 0o666))

	//nolint:vet // for readability
	var c struct {
		Backend string `default:"postgresql"`

		Pool struct {
			Strategy string `default:"queue"`
			MaxSize  int    `default:"10"`
		} `embed:"" prefix:"pool-"`

		Retry struct {
			Max       int           `default:"3"`
			BaseDelay time.Duration `default:"100ms"`
		} `embed:"" prefix:"retry-"`
	}

	parser, err := kong.New(&c, kong.Configuration(yamlLoader, f))
	require.NoError(t, err)

	_, err = parser.Parse([]string{"--pool-strategy=static"})
	require.NoError(t, err)

	assert.Equal(t, "sqlite", c.Backend)
	assert.Equal(t, "static", c.Pool.Strategy)
	assert.Equal(t, 5, c.Pool.MaxSize)
	assert.Equal(t, 3, c.Retry.Max)
	assert.Equal(t, 250*time.Millisecond, c.Retry.BaseDelay)
}

func TestFlatten(t *testing.T) {
	t.Parallel()

	res := map[string]string{}
	flatten("", map[string]any{
		"log": map[string]any{
			"level": "debug",
			"uuid":  true,
		},
		"pool_max_size": 7,
		"hosts":         []any{"a", "b"},
		"empty":         nil,
	}, res)

	expected := map[string]string{
		"log-level":     "debug",
		"log-uuid":      "true",
		"pool-max-size": "7",
		"hosts":         "a,b",
	}
	assert.Equal(t, expected, res)
}
