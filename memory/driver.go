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

// Package memory implements the driver contract against process memory.
// Transactions snapshot the whole store and restore it on rollback. It backs
// the engine tests and serves as the reference driver implementation.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/dolthub/nestql/nql"
)

type table struct {
	columns map[string]*nql.Column
	order   []string
	indexes []*nql.Index
	rows    map[int64]nql.Row
	nextID  int64
}

func (t *table) copy() *table {
	c := &table{
		columns: t.columns,
		order:   t.order,
		indexes: t.indexes,
		rows:    make(map[int64]nql.Row, len(t.rows)),
		nextID:  t.nextID,
	}
	for id, row := range t.rows {
		c.rows[id] = row.Copy()
	}
	return c
}

// Driver is an in-memory nql.Driver. One transaction runs at a time; the
// engine's request queue already serializes callers.
type Driver struct {
	txMu sync.Mutex

	mu          sync.Mutex
	tables      map[string]*table
	foreignKeys map[string]map[string]string
	backup      map[string]*table
}

// NewDriver creates an empty in-memory store.
func NewDriver() *Driver {
	return &Driver{
		tables:      map[string]*table{},
		foreignKeys: map[string]map[string]string{},
	}
}

// StartTransaction snapshots the store; Rollback restores the snapshot.
func (d *Driver) StartTransaction(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.txMu.Lock()
	d.mu.Lock()
	defer d.mu.Unlock()

	d.backup = make(map[string]*table, len(d.tables))
	for name, t := range d.tables {
		d.backup[name] = t.copy()
	}
	return nil
}

func (d *Driver) Commit(ctx context.Context) error {
	d.mu.Lock()
	d.backup = nil
	d.mu.Unlock()
	d.txMu.Unlock()
	return nil
}

func (d *Driver) Rollback(ctx context.Context) error {
	d.mu.Lock()
	if d.backup != nil {
		d.tables = d.backup
		d.backup = nil
	}
	d.mu.Unlock()
	d.txMu.Unlock()
	return nil
}

func (d *Driver) Get(ctx context.Context, q nql.GetQuery) ([]nql.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	t, err := d.table(q.Table)
	if err != nil {
		return nil, err
	}
	for _, column := range q.Search {
		if _, ok := t.columns[column]; !ok {
			return nil, nql.ErrWrongValue.New(column, q.Table)
		}
	}
	for column := range q.Where {
		if _, ok := t.columns[column]; !ok {
			return nil, nql.ErrWrongValue.New(column, q.Table)
		}
	}

	matched := []nql.Row{}
	for _, row := range t.rows {
		if q.Where.Match(row) {
			matched = append(matched, row)
		}
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
	d.mu.Lock()
	defer d.mu.Unlock()

	t, err := d.table(q.Table)
	if err != nil {
		return nil, err
	}

	ids := make([]int64, 0, len(q.Elements))
	for _, element := range q.Elements {
		row := nql.Row{}
		for _, column := range t.order {
			col := t.columns[column]
			value, given := element[column]
			if !given || value == nil {
				if col.HasDefault {
					value = col.Default
				} else if col.NotNull && !col.AutoIncrement {
					return nil, nql.ErrBadRequest.New(fmt.Sprintf(
						"column %s of table %s cannot be null", column, q.Table))
				} else {
					value = nil
				}
			}
			row[column] = value
		}
		for column := range element {
			if _, ok := t.columns[column]; !ok {
				return nil, nql.ErrWrongValue.New(column, q.Table)
			}
		}

		t.nextID++
		row[nql.ReservedID] = t.nextID
		if err := t.checkUnique(q.Table, row, t.nextID); err != nil {
			t.nextID--
			return nil, err
		}
		t.rows[t.nextID] = row
		ids = append(ids, t.nextID)
	}
	return ids, nil
}

func (d *Driver) Update(ctx context.Context, q nql.UpdateQuery) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	t, err := d.table(q.Table)
	if err != nil {
		return err
	}
	for column := range q.Values {
		if _, ok := t.columns[column]; !ok {
			return nql.ErrWrongValue.New(column, q.Table)
		}
	}

	for id, row := range t.rows {
		if !q.Where.Match(row) {
			continue
		}
		updated := row.Copy()
		for column, value := range q.Values {
			updated[column] = value
		}
		if err := t.checkUnique(q.Table, updated, id); err != nil {
			return err
		}
		t.rows[id] = updated
	}
	return nil
}

func (d *Driver) Delete(ctx context.Context, q nql.DeleteQuery) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	t, err := d.table(q.Table)
	if err != nil {
		return err
	}
	deleted := []int64{}
	for id, row := range t.rows {
		if q.Where.Match(row) {
			deleted = append(deleted, id)
		}
	}
	for _, id := range deleted {
		delete(t.rows, id)
	}
	d.cascade(q.Table, deleted)
	return nil
}

// cascade removes every row whose foreign key references a deleted row,
// walking downward references recursively.
func (d *Driver) cascade(tableName string, ids []int64) {
	if len(ids) == 0 {
		return
	}
	for name, keys := range d.foreignKeys {
		t, ok := d.tables[name]
		if !ok {
			continue
		}
		for column, target := range keys {
			if target != tableName {
				continue
			}
			orphans := []int64{}
			for id, row := range t.rows {
				value := row[column]
				for _, deletedID := range ids {
					if nql.ValuesEqual(value, deletedID) {
						orphans = append(orphans, id)
						break
					}
				}
			}
			for _, id := range orphans {
				delete(t.rows, id)
			}
			d.cascade(name, orphans)
		}
	}
}

func (d *Driver) CreateTable(ctx context.Context, q nql.CreateTableQuery) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.tables[q.Table]; exists {
		return nil
	}
	t := &table{
		columns: map[string]*nql.Column{},
		indexes: q.Index,
		rows:    map[int64]nql.Row{},
	}
	for _, column := range q.Data {
		t.columns[column.Name] = column.Column
		t.order = append(t.order, column.Name)
	}
	d.tables[q.Table] = t
	return nil
}

// ProcessTable reconciles a pre-existing table with the model, adding the
// columns it lacks.
func (d *Driver) ProcessTable(ctx context.Context, q nql.ProcessTableQuery) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	t, err := d.table(q.Table)
	if err != nil {
		return err
	}
	for _, column := range q.Data {
		if _, ok := t.columns[column.Name]; ok {
			continue
		}
		t.columns[column.Name] = column.Column
		t.order = append(t.order, column.Name)
		for _, row := range t.rows {
			if column.Column.HasDefault {
				row[column.Name] = column.Column.Default
			} else {
				row[column.Name] = nil
			}
		}
	}
	return nil
}

func (d *Driver) CreateForeignKeys(ctx context.Context, keys map[string]map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	for name, columns := range keys {
		if _, ok := d.tables[name]; !ok {
			return nql.ErrBadRequest.New("foreign keys target unknown table " + name)
		}
		d.foreignKeys[name] = columns
	}
	return nil
}

func (d *Driver) Destroy(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tables = map[string]*table{}
	d.foreignKeys = map[string]map[string]string{}
	return nil
}

func (d *Driver) table(name string) (*table, error) {
	t, ok := d.tables[name]
	if !ok {
		return nil, nql.ErrDatabaseError.New("unknown table " + name)
	}
	return t, nil
}

// checkUnique enforces the unique indexes of the table against a candidate
// row, ignoring the row's own id.
func (t *table) checkUnique(tableName string, candidate nql.Row, selfID int64) error {
	for _, index := range t.indexes {
		if index.Type != "unique" {
			continue
		}
		columns := index.Columns
		if len(columns) == 0 {
			columns = []string{index.Column}
		}
		for id, row := range t.rows {
			if id == selfID {
				continue
			}
			same := true
			for _, column := range columns {
				if candidate[column] == nil || !nql.ValuesEqual(row[column], candidate[column]) {
					same = false
					break
				}
			}
			if same {
				return nql.ErrConflict.New(tableName, fmt.Sprintf(
					"duplicate value for unique index on %v", columns))
			}
		}
	}
	return nil
}
