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

func TestCacheMergesRowValues(t *testing.T) {
	require := require.New(t)
	cache := NewCache()

	cache.AddCache("User", Row{ReservedID: int64(1), "pseudo": "Alice"})
	cache.AddCache("User", Row{ReservedID: int64(1), "email": "a@x"})

	row, ok := cache.ReadCache("User", 1, []string{"pseudo", "email"})
	require.True(ok)
	require.Equal("Alice", row["pseudo"])
	require.Equal("a@x", row["email"])
	require.Equal(int64(1), row[ReservedID])
}

func TestCacheRejectsPartialReads(t *testing.T) {
	require := require.New(t)
	cache := NewCache()

	cache.AddCache("User", Row{ReservedID: int64(1), "pseudo": "Alice"})

	_, ok := cache.ReadCache("User", 1, []string{"pseudo", "email"})
	require.False(ok)
	_, ok = cache.ReadCache("User", 2, []string{"pseudo"})
	require.False(ok)
	_, ok = cache.ReadCache("Feed", 1, []string{"pseudo"})
	require.False(ok)
}

func TestCacheSkipsNestedResults(t *testing.T) {
	require := require.New(t)
	cache := NewCache()

	cache.AddCache("User", Row{
		ReservedID: int64(1),
		"pseudo":   "Alice",
		"avatar":   Row{ReservedID: int64(9)},
		"contacts": []Row{{ReservedID: int64(2)}},
	})

	_, ok := cache.ReadCache("User", 1, []string{"avatar"})
	require.False(ok)
	row, ok := cache.ReadCache("User", 1, []string{"pseudo"})
	require.True(ok)
	require.Equal("Alice", row["pseudo"])
}

func TestCacheIgnoresRowsWithoutID(t *testing.T) {
	require := require.New(t)
	cache := NewCache()

	cache.AddCache("User", Row{"pseudo": "Alice"})
	_, ok := cache.ReadCache("User", 0, []string{"pseudo"})
	require.False(ok)
}

func TestUncache(t *testing.T) {
	require := require.New(t)
	cache := NewCache()

	cache.AddCache("User", Row{ReservedID: int64(1), "pseudo": "Alice"})
	cache.Uncache("User", 1)

	_, ok := cache.ReadCache("User", 1, []string{"pseudo"})
	require.False(ok)
}

func TestUncacheAll(t *testing.T) {
	require := require.New(t)
	cache := NewCache()

	cache.AddCache("User", Row{ReservedID: int64(1), "pseudo": "Alice"})
	cache.AddCache("Comment", Row{ReservedID: int64(2), "content": "hi"})
	cache.UncacheAll()

	_, ok := cache.ReadCache("User", 1, []string{"pseudo"})
	require.False(ok)
	_, ok = cache.ReadCache("Comment", 2, []string{"content"})
	require.False(ok)
}

func TestQueryMemo(t *testing.T) {
	require := require.New(t)
	cache := NewCache()

	q := GetQuery{Table: "User", Search: []string{"pseudo"}, Where: Where{"pseudo": "Alice"}}
	key, err := QueryKey(q)
	require.NoError(err)

	// The key is stable for an equal query.
	again, err := QueryKey(GetQuery{Table: "User", Search: []string{"pseudo"}, Where: Where{"pseudo": "Alice"}})
	require.NoError(err)
	require.Equal(key, again)

	other, err := QueryKey(GetQuery{Table: "User", Search: []string{"pseudo"}, Where: Where{"pseudo": "Bob"}})
	require.NoError(err)
	require.NotEqual(key, other)

	_, ok := cache.CachedQuery(key)
	require.False(ok)

	cache.CacheQuery(key, []Row{{ReservedID: int64(1), "pseudo": "Alice"}})
	rows, ok := cache.CachedQuery(key)
	require.True(ok)
	require.Len(rows, 1)

	cache.InvalidateQueries()
	_, ok = cache.CachedQuery(key)
	require.False(ok)
}
