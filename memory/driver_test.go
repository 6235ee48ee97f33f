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

package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dolthub/nestql/nql"
)

func userColumns() []*nql.PhysicalColumn {
	return []*nql.PhysicalColumn{
		{Name: nql.ReservedID, Column: &nql.Column{Type: "integer", Unsigned: true, NotNull: true, AutoIncrement: true}},
		{Name: "pseudo", Column: &nql.Column{Type: "string", Length: 25, NotNull: true}},
		{Name: "email", Column: &nql.Column{Type: "string", Length: 60}},
		{Name: "score", Column: &nql.Column{Type: "integer", Default: int64(0), HasDefault: true}},
	}
}

func newUserStore(t *testing.T) *Driver {
	t.Helper()
	d := NewDriver()
	err := d.CreateTable(context.Background(), nql.CreateTableQuery{
		Table: "User",
		Data:  userColumns(),
		Index: []*nql.Index{{Column: "email", Type: "unique"}},
	})
	require.NoError(t, err)
	return d
}

func createUser(t *testing.T, d *Driver, pseudo, email string) int64 {
	t.Helper()
	ids, err := d.Create(context.Background(), nql.CreateQuery{
		Table:    "User",
		Elements: []nql.Row{{"pseudo": pseudo, "email": email}},
	})
	require.NoError(t, err)
	require.Len(t, ids, 1)
	return ids[0]
}

func TestCreateAppliesDefaultsAndIDs(t *testing.T) {
	require := require.New(t)
	d := newUserStore(t)
	ctx := context.Background()

	id1 := createUser(t, d, "Alice", "a@x")
	id2 := createUser(t, d, "Bob", "b@x")
	require.NotEqual(id1, id2)

	rows, err := d.Get(ctx, nql.GetQuery{
		Table:  "User",
		Search: []string{nql.ReservedID, "pseudo", "score"},
		Where:  nql.Where{nql.ReservedID: id1},
	})
	require.NoError(err)
	require.Len(rows, 1)
	require.Equal("Alice", rows[0]["pseudo"])
	require.Equal(int64(0), rows[0]["score"])
}

func TestCreateEnforcesNotNullAndColumns(t *testing.T) {
	require := require.New(t)
	d := newUserStore(t)
	ctx := context.Background()

	_, err := d.Create(ctx, nql.CreateQuery{
		Table:    "User",
		Elements: []nql.Row{{"email": "a@x"}},
	})
	require.Error(err)
	require.True(nql.ErrBadRequest.Is(err))

	_, err = d.Create(ctx, nql.CreateQuery{
		Table:    "User",
		Elements: []nql.Row{{"pseudo": "Alice", "ghost": 1}},
	})
	require.Error(err)
	require.True(nql.ErrWrongValue.Is(err))
}

func TestUniqueIndex(t *testing.T) {
	require := require.New(t)
	d := newUserStore(t)
	ctx := context.Background()

	createUser(t, d, "Alice", "a@x")
	_, err := d.Create(ctx, nql.CreateQuery{
		Table:    "User",
		Elements: []nql.Row{{"pseudo": "Clone", "email": "a@x"}},
	})
	require.Error(err)
	require.True(nql.ErrConflict.Is(err))

	// Updating into a duplicate is also rejected.
	id := createUser(t, d, "Bob", "b@x")
	err = d.Update(ctx, nql.UpdateQuery{
		Table:  "User",
		Values: nql.Row{"email": "a@x"},
		Where:  nql.Where{nql.ReservedID: id},
	})
	require.Error(err)
	require.True(nql.ErrConflict.Is(err))

	// Null values never conflict with each other.
	_, err = d.Create(ctx, nql.CreateQuery{
		Table:    "User",
		Elements: []nql.Row{{"pseudo": "N1"}, {"pseudo": "N2"}},
	})
	require.NoError(err)
}

func TestGetProjectionOrderAndWindow(t *testing.T) {
	require := require.New(t)
	d := newUserStore(t)
	ctx := context.Background()

	createUser(t, d, "B", "b@x")
	createUser(t, d, "A", "a@x")
	createUser(t, d, "C", "c@x")

	rows, err := d.Get(ctx, nql.GetQuery{
		Table:  "User",
		Search: []string{"pseudo"},
		Order:  []string{"-pseudo"},
		Limit:  2,
	})
	require.NoError(err)
	require.Len(rows, 2)
	require.Equal("C", rows[0]["pseudo"])
	require.Equal("B", rows[1]["pseudo"])
	// Projection drops the other columns.
	_, ok := rows[0]["email"]
	require.False(ok)

	rows, err = d.Get(ctx, nql.GetQuery{
		Table:  "User",
		Search: []string{"pseudo"},
		Order:  []string{"pseudo"},
		Offset: 1,
		Limit:  1,
	})
	require.NoError(err)
	require.Len(rows, 1)
	require.Equal("B", rows[0]["pseudo"])

	_, err = d.Get(ctx, nql.GetQuery{Table: "User", Search: []string{"ghost"}})
	require.Error(err)
	require.True(nql.ErrWrongValue.Is(err))

	_, err = d.Get(ctx, nql.GetQuery{Table: "Ghost", Search: []string{"pseudo"}})
	require.Error(err)
	require.True(nql.ErrDatabaseError.Is(err))
}

func TestRollbackRestoresSnapshot(t *testing.T) {
	require := require.New(t)
	d := newUserStore(t)
	ctx := context.Background()

	createUser(t, d, "Alice", "a@x")

	require.NoError(d.StartTransaction(ctx))
	createUser(t, d, "Bob", "b@x")
	require.NoError(d.Rollback(ctx))

	rows, err := d.Get(ctx, nql.GetQuery{Table: "User", Search: []string{"pseudo"}})
	require.NoError(err)
	require.Len(rows, 1)
	require.Equal("Alice", rows[0]["pseudo"])

	require.NoError(d.StartTransaction(ctx))
	createUser(t, d, "Carol", "c@x")
	require.NoError(d.Commit(ctx))

	rows, err = d.Get(ctx, nql.GetQuery{Table: "User", Search: []string{"pseudo"}})
	require.NoError(err)
	require.Len(rows, 2)
}

func TestDeleteCascades(t *testing.T) {
	require := require.New(t)
	d := newUserStore(t)
	ctx := context.Background()

	require.NoError(d.CreateTable(ctx, nql.CreateTableQuery{
		Table: "contactsUser",
		Data: []*nql.PhysicalColumn{
			{Name: nql.ReservedID, Column: &nql.Column{Type: "integer", AutoIncrement: true}},
			{Name: "userId", Column: &nql.Column{Type: "integer", NotNull: true}},
			{Name: "contactsId", Column: &nql.Column{Type: "integer", NotNull: true}},
		},
	}))
	require.NoError(d.CreateForeignKeys(ctx, map[string]map[string]string{
		"contactsUser": {"userId": "User", "contactsId": "User"},
	}))

	alice := createUser(t, d, "Alice", "a@x")
	bob := createUser(t, d, "Bob", "b@x")
	_, err := d.Create(ctx, nql.CreateQuery{
		Table:    "contactsUser",
		Elements: []nql.Row{{"userId": alice, "contactsId": bob}},
	})
	require.NoError(err)

	require.NoError(d.Delete(ctx, nql.DeleteQuery{
		Table: "User",
		Where: nql.Where{nql.ReservedID: bob},
	}))

	links, err := d.Get(ctx, nql.GetQuery{Table: "contactsUser", Search: []string{"userId"}})
	require.NoError(err)
	require.Empty(links)

	rows, err := d.Get(ctx, nql.GetQuery{Table: "User", Search: []string{"pseudo"}})
	require.NoError(err)
	require.Len(rows, 1)
	require.Equal("Alice", rows[0]["pseudo"])
}

func TestProcessTableAddsColumns(t *testing.T) {
	require := require.New(t)
	d := newUserStore(t)
	ctx := context.Background()

	createUser(t, d, "Alice", "a@x")

	require.NoError(d.ProcessTable(ctx, nql.ProcessTableQuery{
		Table: "User",
		Data: []*nql.PhysicalColumn{
			{Name: "bio", Column: &nql.Column{Type: "text"}},
		},
	}))

	rows, err := d.Get(ctx, nql.GetQuery{Table: "User", Search: []string{"pseudo", "bio"}})
	require.NoError(err)
	require.Len(rows, 1)
	require.Nil(rows[0]["bio"])
}
