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

import "slices"

// Row is a single result row with column order preserved.
type Row struct {
	Columns []string
	Values  []any
}

// Get returns the value of the column with the given name.
func (r *Row) Get(name string) (any, bool) {
	i := slices.Index(r.Columns, name)
	if i < 0 {
		return nil, false
	}

	return r.Values[i], true
}

// QueryResult represents the result of a statement that does not return rows.
type QueryResult struct {
	RowsAffected int64
}
