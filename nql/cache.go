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
	lru "github.com/hashicorp/golang-lru"
	"github.com/mitchellh/hashstructure"
)

// defaultCacheSize bounds the number of rows remembered per transaction.
const defaultCacheSize = 16384

type cacheKey struct {
	table string
	id    int64
}

// Cache memoizes the column values known for a row within one transaction,
// keyed by (table, reservedId), plus a memo of whole driver reads keyed by
// query hash. It is exclusively owned by one request.
type Cache struct {
	rows    *lru.Cache
	queries *lru.Cache
}

// NewCache creates an empty per-transaction cache.
func NewCache() *Cache {
	rows, _ := lru.New(defaultCacheSize)
	queries, _ := lru.New(defaultCacheSize)
	return &Cache{rows: rows, queries: queries}
}

// AddCache merges the values of row into the cache entry for its reservedId.
// Rows without a reservedId are ignored.
func (c *Cache) AddCache(table string, row Row) {
	id, ok := row.ID()
	if !ok {
		return
	}

	key := cacheKey{table, id}
	entry := Row{}
	if prev, ok := c.rows.Get(key); ok {
		entry = prev.(Row).Copy()
	}
	for k, v := range row {
		switch v.(type) {
		case Row, []Row:
			// Nested results are request-shaped, not column values.
		default:
			entry[k] = v
		}
	}
	c.rows.Add(key, entry)
}

// ReadCache returns the cached row only if every requested property is known.
// A single missing property invalidates the lookup so that partial entries
// never masquerade as full reads.
func (c *Cache) ReadCache(table string, id int64, properties []string) (Row, bool) {
	v, ok := c.rows.Get(cacheKey{table, id})
	if !ok {
		return nil, false
	}
	entry := v.(Row)

	out := Row{ReservedID: id}
	for _, p := range properties {
		value, known := entry[p]
		if !known {
			return nil, false
		}
		out[p] = value
	}
	return out, true
}

// Uncache drops the entry for a row, typically after its deletion.
func (c *Cache) Uncache(table string, id int64) {
	c.rows.Remove(cacheKey{table, id})
}

// UncacheAll drops every row entry. Called after deletions, whose cascades
// may remove rows in other tables than the one addressed.
func (c *Cache) UncacheAll() {
	c.rows.Purge()
}

// CacheQuery memoizes the rows returned by a driver read.
func (c *Cache) CacheQuery(key uint64, rows []Row) {
	c.queries.Add(key, rows)
}

// CachedQuery returns a previously memoized read, if still valid.
func (c *Cache) CachedQuery(key uint64) ([]Row, bool) {
	v, ok := c.queries.Get(key)
	if !ok {
		return nil, false
	}
	return v.([]Row), true
}

// InvalidateQueries drops every memoized read. Called after any mutation,
// which may change what an identical read would return.
func (c *Cache) InvalidateQueries() {
	c.queries.Purge()
}

// QueryKey returns a stable hash for a driver query, used to memoize
// identical reads within one transaction.
func QueryKey(v interface{}) (uint64, error) {
	return hashstructure.Hash(v, nil)
}
