// Copyright 2024 Dolthub, Inc.
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

package nql

import "github.com/spf13/cast"

// Row is a resolved entity: a map from column or field name to value.
// Resolved object references hold nested Rows, resolved array references
// hold slices of Rows.
type Row map[string]interface{}

// ID returns the reservedId of the row.
func (r Row) ID() (int64, bool) {
	v, ok := r[ReservedID]
	if !ok {
		return 0, false
	}
	id, err := cast.ToInt64E(v)
	if err != nil {
		return 0, false
	}
	return id, true
}

// Copy returns a shallow copy of the row.
func (r Row) Copy() Row {
	c := make(Row, len(r))
	for k, v := range r {
		c[k] = v
	}
	return c
}

// Result is the response to a top-level request: one slice of rows per
// requested table, in request order.
type Result map[string][]Row

// RowIDs returns the reservedIds of the given rows, skipping rows without one.
func RowIDs(rows []Row) []int64 {
	ids := make([]int64, 0, len(rows))
	for _, row := range rows {
		if id, ok := row.ID(); ok {
			ids = append(ids, id)
		}
	}
	return ids
}
