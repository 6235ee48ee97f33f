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
	"context"
	"time"
)

// DriverTimeout is the soft timeout applied to individual driver calls.
const DriverTimeout = 5 * time.Second

// Where is a conjunction of column constraints. A value matches by equality,
// a slice of values matches any of them, and a nested map applies the
// constraint operators (not, like, gt, ge, lt, le and their symbolic forms).
type Where map[string]interface{}

// GetQuery selects rows from a table.
type GetQuery struct {
	Table  string
	Search []string // columns to return
	Where  Where
	Offset int
	Limit  int // 0 means no limit; callers encode "limit: 0" as an empty read
	Order  []string
}

// CreateQuery inserts rows into a table.
type CreateQuery struct {
	Table    string
	Elements []Row
}

// UpdateQuery updates the matching rows with the given values.
type UpdateQuery struct {
	Table  string
	Values Row
	Where  Where
}

// DeleteQuery removes the matching rows.
type DeleteQuery struct {
	Table string
	Where Where
}

// CreateTableQuery creates a physical table if it does not exist.
type CreateTableQuery struct {
	Table string
	Data  []*PhysicalColumn
	Index []*Index
}

// ProcessTableQuery lets the driver reconcile an existing table with the
// prepared model, e.g. adding missing columns.
type ProcessTableQuery struct {
	Table string
	Data  []*PhysicalColumn
}

// Driver is the transactional CRUD and DDL surface consumed by the resolver.
// Implementations must honour ctx cancellation on every call; cancellation
// mid-transaction rolls back.
type Driver interface {
	// StartTransaction leases a connection and begins a transaction on it.
	StartTransaction(ctx context.Context) error
	// Commit commits the current transaction and releases the connection.
	Commit(ctx context.Context) error
	// Rollback aborts the current transaction and releases the connection.
	Rollback(ctx context.Context) error

	// Get returns the rows matching the query.
	Get(ctx context.Context, q GetQuery) ([]Row, error)
	// Create inserts the given elements, returning the generated reservedIds
	// in element order.
	Create(ctx context.Context, q CreateQuery) ([]int64, error)
	// Update overwrites the given values on every matching row.
	Update(ctx context.Context, q UpdateQuery) error
	// Delete removes every matching row, cascading through foreign keys.
	Delete(ctx context.Context, q DeleteQuery) error

	// CreateTable creates the physical table with its indexes.
	CreateTable(ctx context.Context, q CreateTableQuery) error
	// ProcessTable reconciles a pre-existing table with the model.
	ProcessTable(ctx context.Context, q ProcessTableQuery) error
	// CreateForeignKeys declares the foreign keys of all tables, keyed by
	// table name and then column name, referencing target tables' reservedId.
	// All referenced keys cascade on delete and update.
	CreateForeignKeys(ctx context.Context, keys map[string]map[string]string) error

	// Destroy closes the driver and its connection pool.
	Destroy(ctx context.Context) error
}
