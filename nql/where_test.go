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

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWhereMatch(t *testing.T) {
	require := require.New(t)
	row := Row{"pseudo": "Alice", "age": int64(30), "bio": nil}

	require.True(Where{}.Match(row))
	require.True(Where{"pseudo": "Alice"}.Match(row))
	require.False(Where{"pseudo": "Bob"}.Match(row))

	// Numeric equality ignores the concrete Go type.
	require.True(Where{"age": 30}.Match(row))
	require.True(Where{"age": float64(30)}.Match(row))

	// A nil constraint matches only a null value.
	require.True(Where{"bio": nil}.Match(row))
	require.False(Where{"pseudo": nil}.Match(row))

	// A list matches any of its values.
	require.True(Where{"pseudo": []interface{}{"Bob", "Alice"}}.Match(row))
	require.False(Where{"pseudo": []interface{}{}}.Match(row))
	require.True(Where{"age": []int64{29, 30}}.Match(row))
}

func TestWhereMatchOperators(t *testing.T) {
	require := require.New(t)
	row := Row{"pseudo": "Alice", "age": int64(30)}

	require.True(Where{"pseudo": map[string]interface{}{"not": "Bob"}}.Match(row))
	require.False(Where{"pseudo": map[string]interface{}{"not": "Alice"}}.Match(row))
	require.False(Where{"pseudo": map[string]interface{}{"!": []interface{}{"Alice", "Bob"}}}.Match(row))

	require.True(Where{"pseudo": map[string]interface{}{"like": "Al%"}}.Match(row))
	require.True(Where{"pseudo": map[string]interface{}{"~": "_lice"}}.Match(row))
	require.False(Where{"pseudo": map[string]interface{}{"like": "Bob%"}}.Match(row))

	require.True(Where{"age": map[string]interface{}{"gt": 29}}.Match(row))
	require.False(Where{"age": map[string]interface{}{">": 30}}.Match(row))
	require.True(Where{"age": map[string]interface{}{">=": 30}}.Match(row))
	require.True(Where{"age": map[string]interface{}{"lt": 31}}.Match(row))
	require.False(Where{"age": map[string]interface{}{"<": 30}}.Match(row))
	require.True(Where{"age": map[string]interface{}{"<=": 30}}.Match(row))

	// Operators combine as a conjunction.
	require.True(Where{"age": map[string]interface{}{"gt": 20, "lt": 40}}.Match(row))
	require.False(Where{"age": map[string]interface{}{"gt": 20, "lt": 25}}.Match(row))

	// An unknown operator never matches.
	require.False(Where{"age": map[string]interface{}{"between": 20}}.Match(row))
}

func TestMatchLikeEscapesRegexMeta(t *testing.T) {
	require := require.New(t)
	row := Row{"email": "a.b@x.com"}

	require.True(Where{"email": map[string]interface{}{"like": "a.b@%"}}.Match(row))
	// The dot is literal, not a regex wildcard.
	require.False(Where{"email": map[string]interface{}{"like": "axb@%"}}.Match(row))
}

func TestCompareValues(t *testing.T) {
	require := require.New(t)

	require.Equal(0, CompareValues(nil, nil))
	require.Equal(-1, CompareValues(nil, 1))
	require.Equal(1, CompareValues(1, nil))
	require.Negative(CompareValues(1, 2))
	require.Positive(CompareValues(2.5, 2))
	require.Equal(0, CompareValues(int64(3), float64(3)))
	require.Negative(CompareValues("abc", "abd"))
}

func TestSortRowsAndWindow(t *testing.T) {
	require := require.New(t)
	rows := []Row{
		{ReservedID: int64(1), "pseudo": "B", "age": int64(20)},
		{ReservedID: int64(2), "pseudo": "A", "age": int64(30)},
		{ReservedID: int64(3), "pseudo": "C", "age": int64(20)},
	}

	SortRows(rows, []string{"age", "-pseudo"})
	require.Equal("C", rows[0]["pseudo"])
	require.Equal("B", rows[1]["pseudo"])
	require.Equal("A", rows[2]["pseudo"])

	windowed := Window(rows, 1, 1)
	require.Len(windowed, 1)
	require.Equal("B", windowed[0]["pseudo"])

	require.Empty(Window(rows, 5, 0))
	require.Len(Window(rows, 0, 0), 3)
	require.Len(Window(rows, 0, 10), 3)
}
