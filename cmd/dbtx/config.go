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
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/alecthomas/kong"
	"gopkg.in/yaml.v3"

	"github.com/FerretDB/dbtx/internal/util/lazyerrors"
)

// yamlLoader is a kong.ConfigurationLoader for YAML files.
//
// Nested mappings are flattened with "-" and "_" is replaced with "-",
// so `pool: {max_size: 5}` is the same as `--pool-max-size=5`.
func yamlLoader(r io.Reader) (kong.Resolver, error) {
	var doc map[string]any
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, lazyerrors.Error(err)
	}

	values := map[string]string{}
	flatten("", doc, values)

	var f kong.ResolverFunc = func(_ *kong.Context, _ *kong.Path, flag *kong.Flag) (any, error) {
		v, ok := values[flag.Name]
		if !ok {
			return nil, nil
		}

		return v, nil
	}

	return f, nil
}

// flatten adds scalar values of m to res.
func flatten(prefix string, m map[string]any, res map[string]string) {
	for k, v := range m {
		key := strings.ReplaceAll(k, "_", "-")
		if prefix != "" {
			key = prefix + "-" + key
		}

		switch v := v.(type) {
		case map[string]any:
			flatten(key, v, res)
		case []any:
			s := make([]string, len(v))
			for i, e := range v {
				s[i] = fmt.Sprint(e)
			}

			res[key] = strings.Join(s, ",")
		case nil:
		default:
			res[key] = fmt.Sprint(v)
		}
	}
}
