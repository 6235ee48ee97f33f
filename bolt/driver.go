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

// Package bolt implements the driver contract on a boltdb file: one bucket
// per table, rows stored as JSON under their big-endian reservedId, ids
// allocated through the bucket sequence. It is the persistent counterpart of
// the memory driver.
package bolt

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"

	bolt "github.com/boltdb/bolt"

	"github.com/dolthub/nestql/nql"
)

const metaBucket = "__meta"

// tableMeta is the persisted description of one table, kept in the meta
// bucket so a reopened file still knows its columns and indexes.
type tableMeta struct {
	Columns []*nql.PhysicalColumn `json:"columns"`
	Indexes []*nql.Index          `json:"indexes"`
}

// Driver is a boltdb-backed nql.Driver. Bolt allows a single writable
// transaction at a time, which matches the engine's request queue.
type Driver struct {
	db *bolt.DB

	mu          sync.Mutex
	tx          *bolt.Tx
	meta        map[string]*tableMeta
	foreignKeys map[string]map[string]string
}

// Open opens or creates the database file and loads the persisted table
// descriptions.
func Open(path string) (*Driver, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: nql.DriverTimeout})
	if err != nil {
		return nil, nql.ErrDatabaseError.New(err)
	}
	d := &Driver{
		db:          db,
		meta:        map[string]*tableMeta{},
		foreignKeys: map[string]map[string]string{},
	}
	if err := d.loadMeta(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return d, nil
}

func (d *Driver) loadMeta() error {
	return d.db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists([]byte(metaBucket))
		if err != nil {
			return nql.ErrDatabaseError.New(err)
		}
		return bucket.ForEach(func(k, v []byte) error {
			if string(k) == "foreignKeys" {
				return json.Unmarshal(v, &d.foreignKeys)
			}
			meta := &tableMeta{}
			if err := json.Unmarshal(v, meta); err != nil {
				return nql.ErrDatabaseError.New(err)
			}
			d.meta[string(k)] = meta
			return nil
		})
	})
}

// StartTransaction begins a writable bolt transaction; every call until
// Commit or Rollback runs inside it.
func (d *Driver) StartTransaction(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx, err := d.db.Begin(true)
	if err != nil {
		return nql.ErrDatabaseError.New(err)
	}
	d.mu.Lock()
	d.tx = tx
	d.mu.Unlock()
	return nil
}

func (d *Driver) Commit(ctx context.Context) error {
	d.mu.Lock()
	tx := d.tx
	d.tx = nil
	d.mu.Unlock()
	if tx == nil {
		return nql.ErrDatabaseError.New("commit without an open transaction")
	}
	if err := tx.Commit(); err != nil {
		return nql.ErrDatabaseError.New(err)
	}
	return nil
}

func (d *Driver) Rollback(ctx context.Context) error {
	d.mu.Lock()
	tx := d.tx
	d.tx = nil
	d.mu.Unlock()
	if tx == nil {
		return nil
	}
	if err := tx.Rollback(); err != nil {
		return nql.ErrDatabaseError.New(err)
	}
	return nil
}

// update runs fn in the open transaction, or in a one-shot one for calls
// outside a request, like table creation at startup.
func (d *Driver) update(fn func(tx *bolt.Tx) error) error {
	d.mu.Lock()
	tx := d.tx
	d.mu.Unlock()
	if tx != nil {
		return fn(tx)
	}
	return d.db.Update(fn)
}

func (d *Driver) Get(ctx context.Context, q nql.GetQuery) ([]nql.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	meta, err := d.tableMeta(q.Table)
	if err != nil {
		return nil, err
	}
	if err := checkColumns(meta, q.Table, q.Search); err != nil {
		return nil, err
	}
	whereColumns := make([]string, 0, len(q.Where))
	for column := range q.Where {
		whereColumns = append(whereColumns, column)
	}
	if err := checkColumns(meta, q.Table, whereColumns); err != nil {
		return nil, err
	}

	matched := []nql.Row{}
	err = d.update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(q.Table))
		if bucket == nil {
			return nql.ErrDatabaseError.New("unknown table " + q.Table)
		}
		return bucket.ForEach(func(k, v []byte) error {
			row := nql.Row{}
			if err := json.Unmarshal(v, &row); err != nil {
				return nql.ErrDatabaseError.New(err)
			}
			if q.Where.Match(row) {
				matched = append(matched, row)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	order := append(append([]string{}, q.Order...), nql.ReservedID)
	nql.SortRows(matched, order)
	matched = nql.Window(matched, q.Offset, q.Limit)

	out := make([]nql.Row, len(matched))
	for i, row := range matched {
		projected := nql.Row{}
		for _, column := range q.Search {
			projected[column] = row[column]
		}
		out[i] = projected
	}
	return out, nil
}

func (d *Driver) Create(ctx context.Context, q nql.CreateQuery) ([]int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	meta, err := d.tableMeta(q.Table)
	if err != nil {
		return nil, err
	}

	ids := make([]int64, 0, len(q.Elements))
	err = d.update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(q.Table))
		if bucket == nil {
			return nql.ErrDatabaseError.New("unknown table " + q.Table)
		}
		for _, element := range q.Elements {
			row, err := buildRow(meta, q.Table, element)
			if err != nil {
				return err
			}
			seq, err := bucket.NextSequence()
			if err != nil {
				return nql.ErrDatabaseError.New(err)
			}
			id := int64(seq)
			row[nql.ReservedID] = id
			if err := checkUnique(bucket, meta, q.Table, row, id); err != nil {
				return err
			}
			if err := putRow(bucket, id, row); err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (d *Driver) Update(ctx context.Context, q nql.UpdateQuery) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	meta, err := d.tableMeta(q.Table)
	if err != nil {
		return err
	}
	for column := range q.Values {
		if !hasColumn(meta, column) {
			return nql.ErrWrongValue.New(column, q.Table)
		}
	}

	return d.update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(q.Table))
		if bucket == nil {
			return nql.ErrDatabaseError.New("unknown table " + q.Table)
		}
		updates := map[int64]nql.Row{}
		err := bucket.ForEach(func(k, v []byte) error {
			row := nql.Row{}
			if err := json.Unmarshal(v, &row); err != nil {
				return nql.ErrDatabaseError.New(err)
			}
			if !q.Where.Match(row) {
				return nil
			}
			for column, value := range q.Values {
				row[column] = value
			}
			id, ok := row.ID()
			if !ok {
				return nql.ErrDatabaseError.New("row without reservedId in table " + q.Table)
			}
			updates[id] = row
			return nil
		})
		if err != nil {
			return err
		}
		for id, row := range updates {
			if err := checkUnique(bucket, meta, q.Table, row, id); err != nil {
				return err
			}
			if err := putRow(bucket, id, row); err != nil {
				return err
			}
		}
		return nil
	})
}

func (d *Driver) Delete(ctx context.Context, q nql.DeleteQuery) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := d.tableMeta(q.Table); err != nil {
		return err
	}
	return d.update(func(tx *bolt.Tx) error {
		return d.deleteWhere(tx, q.Table, q.Where)
	})
}

// deleteWhere removes the matching rows, then cascades through every foreign
// key referencing the table.
func (d *Driver) deleteWhere(tx *bolt.Tx, tableName string, where nql.Where) error {
	bucket := tx.Bucket([]byte(tableName))
	if bucket == nil {
		return nql.ErrDatabaseError.New("unknown table " + tableName)
	}
	deleted := []int64{}
	err := bucket.ForEach(func(k, v []byte) error {
		row := nql.Row{}
		if err := json.Unmarshal(v, &row); err != nil {
			return nql.ErrDatabaseError.New(err)
		}
		if where.Match(row) {
			if id, ok := row.ID(); ok {
				deleted = append(deleted, id)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, id := range deleted {
		if err := bucket.Delete(rowKey(id)); err != nil {
			return nql.ErrDatabaseError.New(err)
		}
	}
	return d.cascade(tx, tableName, deleted)
}

func (d *Driver) cascade(tx *bolt.Tx, tableName string, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	for name, keys := range d.foreignKeys {
		for column, target := range keys {
			if target != tableName {
				continue
			}
			if err := d.deleteWhere(tx, name, nql.Where{column: ids}); err != nil {
				return err
			}
		}
	}
	return nil
}

func (d *Driver) CreateTable(ctx context.Context, q nql.CreateTableQuery) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	meta := &tableMeta{Columns: q.Data, Indexes: q.Index}
	err := d.update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(q.Table)); err != nil {
			return nql.ErrDatabaseError.New(err)
		}
		return d.persistMeta(tx, q.Table, meta)
	})
	if err != nil {
		return err
	}
	d.mu.Lock()
	if _, exists := d.meta[q.Table]; !exists {
		d.meta[q.Table] = meta
	}
	d.mu.Unlock()
	return nil
}

// ProcessTable reconciles a reopened table with the model, recording the
// columns it lacks. Rows keep their stored shape; missing columns read as
// null.
func (d *Driver) ProcessTable(ctx context.Context, q nql.ProcessTableQuery) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	meta, err := d.tableMeta(q.Table)
	if err != nil {
		return err
	}
	changed := false
	for _, column := range q.Data {
		if !hasColumn(meta, column.Name) {
			meta.Columns = append(meta.Columns, column)
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return d.update(func(tx *bolt.Tx) error {
		return d.persistMeta(tx, q.Table, meta)
	})
}

func (d *Driver) CreateForeignKeys(ctx context.Context, keys map[string]map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	for name, columns := range keys {
		d.foreignKeys[name] = columns
	}
	encoded, err := json.Marshal(d.foreignKeys)
	d.mu.Unlock()
	if err != nil {
		return nql.ErrDatabaseError.New(err)
	}
	return d.update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(metaBucket)).Put([]byte("foreignKeys"), encoded)
	})
}

func (d *Driver) Destroy(ctx context.Context) error {
	d.mu.Lock()
	if d.tx != nil {
		_ = d.tx.Rollback()
		d.tx = nil
	}
	d.mu.Unlock()
	if err := d.db.Close(); err != nil {
		return nql.ErrDatabaseError.New(err)
	}
	return nil
}

func (d *Driver) persistMeta(tx *bolt.Tx, tableName string, meta *tableMeta) error {
	encoded, err := json.Marshal(meta)
	if err != nil {
		return nql.ErrDatabaseError.New(err)
	}
	if err := tx.Bucket([]byte(metaBucket)).Put([]byte(tableName), encoded); err != nil {
		return nql.ErrDatabaseError.New(err)
	}
	return nil
}

func (d *Driver) tableMeta(name string) (*tableMeta, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	meta, ok := d.meta[name]
	if !ok {
		return nil, nql.ErrDatabaseError.New("unknown table " + name)
	}
	return meta, nil
}

// buildRow materializes one element against the table description, applying
// defaults and enforcing notNull.
func buildRow(meta *tableMeta, tableName string, element nql.Row) (nql.Row, error) {
	row := nql.Row{}
	for _, column := range meta.Columns {
		value, given := element[column.Name]
		if !given || value == nil {
			col := column.Column
			switch {
			case col.HasDefault:
				value = col.Default
			case col.NotNull && !col.AutoIncrement:
				return nil, nql.ErrBadRequest.New(fmt.Sprintf(
					"column %s of table %s cannot be null", column.Name, tableName))
			default:
				value = nil
			}
		}
		row[column.Name] = value
	}
	for column := range element {
		if !hasColumn(meta, column) {
			return nil, nql.ErrWrongValue.New(column, tableName)
		}
	}
	return row, nil
}

// checkUnique scans the bucket for another row sharing the values of a
// unique index with the candidate.
func checkUnique(bucket *bolt.Bucket, meta *tableMeta, tableName string, candidate nql.Row, selfID int64) error {
	for _, index := range meta.Indexes {
		if index.Type != "unique" {
			continue
		}
		columns := index.Columns
		if len(columns) == 0 {
			columns = []string{index.Column}
		}
		conflict := false
		err := bucket.ForEach(func(k, v []byte) error {
			row := nql.Row{}
			if err := json.Unmarshal(v, &row); err != nil {
				return nql.ErrDatabaseError.New(err)
			}
			if id, ok := row.ID(); ok && id == selfID {
				return nil
			}
			same := true
			for _, column := range columns {
				if candidate[column] == nil || !nql.ValuesEqual(row[column], candidate[column]) {
					same = false
					break
				}
			}
			if same {
				conflict = true
			}
			return nil
		})
		if err != nil {
			return err
		}
		if conflict {
			return nql.ErrConflict.New(tableName, fmt.Sprintf(
				"duplicate value for unique index on %v", columns))
		}
	}
	return nil
}

func putRow(bucket *bolt.Bucket, id int64, row nql.Row) error {
	encoded, err := json.Marshal(row)
	if err != nil {
		return nql.ErrDatabaseError.New(err)
	}
	if err := bucket.Put(rowKey(id), encoded); err != nil {
		return nql.ErrDatabaseError.New(err)
	}
	return nil
}

func rowKey(id int64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(id))
	return key
}

func checkColumns(meta *tableMeta, tableName string, columns []string) error {
	for _, column := range columns {
		if !hasColumn(meta, column) {
			return nql.ErrWrongValue.New(column, tableName)
		}
	}
	return nil
}

func hasColumn(meta *tableMeta, name string) bool {
	for _, column := range meta.Columns {
		if column.Name == name {
			return true
		}
	}
	return false
}
