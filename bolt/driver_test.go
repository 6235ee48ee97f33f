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

package bolt

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dolthub/nestql/nql"
)

func userColumns() []*nql.PhysicalColumn {
	return []*nql.PhysicalColumn{
		{Name: nql.ReservedID, Column: &nql.Column{Type: "integer", Unsigned: true, NotNull: true, AutoIncrement: true}},
		{Name: "pseudo", Column: &nql.Column{Type: "string", Length: 25, NotNull: true}},
		{Name: "email", Column: &nql.Column{Type: "string", Length: 60}},
	}
}

func openUserStore(t *testing.T, path string) *Driver {
	t.Helper()
	d, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, d.CreateTable(context.Background(), nql.CreateTableQuery{
		Table: "User",
		Data:  userColumns(),
		Index: []*nql.Index{{Column: "email", Type: "unique"}},
	}))
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

func TestCRUDRoundTrip(t *testing.T) {
	require := require.New(t)
	d := openUserStore(t, filepath.Join(t.TempDir(), "test.db"))
	defer func() { require.NoError(d.Destroy(context.Background())) }()
	ctx := context.Background()

	alice := createUser(t, d, "Alice", "a@x")
	bob := createUser(t, d, "Bob", "b@x")
	require.NotEqual(alice, bob)

	rows, err := d.Get(ctx, nql.GetQuery{
		Table:  "User",
		Search: []string{nql.ReservedID, "pseudo"},
		Where:  nql.Where{"email": "a@x"},
	})
	require.NoError(err)
	require.Len(rows, 1)
	require.Equal("Alice", rows[0]["pseudo"])

	require.NoError(d.Update(ctx, nql.UpdateQuery{
		Table:  "User",
		Values: nql.Row{"pseudo": "Alicia"},
		Where:  nql.Where{nql.ReservedID: alice},
	}))
	rows, err = d.Get(ctx, nql.GetQuery{
		Table:  "User",
		Search: []string{"pseudo"},
		Where:  nql.Where{nql.ReservedID: alice},
	})
	require.NoError(err)
	require.Equal("Alicia", rows[0]["pseudo"])

	require.NoError(d.Delete(ctx, nql.DeleteQuery{
		Table: "User",
		Where: nql.Where{nql.ReservedID: bob},
	}))
	rows, err = d.Get(ctx, nql.GetQuery{Table: "User", Search: []string{"pseudo"}})
	require.NoError(err)
	require.Len(rows, 1)
}

func TestRowsSurviveReopen(t *testing.T) {
	require := require.New(t)
	path := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	d := openUserStore(t, path)
	alice := createUser(t, d, "Alice", "a@x")
	require.NoError(d.Destroy(ctx))

	// A fresh driver on the same file sees the table and its rows.
	reopened, err := Open(path)
	require.NoError(err)
	defer func() { require.NoError(reopened.Destroy(ctx)) }()

	rows, err := reopened.Get(ctx, nql.GetQuery{
		Table:  "User",
		Search: []string{nql.ReservedID, "pseudo"},
	})
	require.NoError(err)
	require.Len(rows, 1)
	require.Equal("Alice", rows[0]["pseudo"])

	// Ids keep incrementing from the persisted sequence.
	bob := createUser(t, reopened, "Bob", "b@x")
	require.Greater(bob, alice)

	// The unique index survives too.
	_, err = reopened.Create(ctx, nql.CreateQuery{
		Table:    "User",
		Elements: []nql.Row{{"pseudo": "Clone", "email": "a@x"}},
	})
	require.Error(err)
	require.True(nql.ErrConflict.Is(err))
}

func TestTransactionRollback(t *testing.T) {
	require := require.New(t)
	d := openUserStore(t, filepath.Join(t.TempDir(), "test.db"))
	defer func() { require.NoError(d.Destroy(context.Background())) }()
	ctx := context.Background()

	createUser(t, d, "Alice", "a@x")

	require.NoError(d.StartTransaction(ctx))
	createUser(t, d, "Bob", "b@x")
	require.NoError(d.Rollback(ctx))

	rows, err := d.Get(ctx, nql.GetQuery{Table: "User", Search: []string{"pseudo"}})
	require.NoError(err)
	require.Len(rows, 1)

	require.NoError(d.StartTransaction(ctx))
	createUser(t, d, "Carol", "c@x")
	require.NoError(d.Commit(ctx))

	rows, err = d.Get(ctx, nql.GetQuery{Table: "User", Search: []string{"pseudo"}})
	require.NoError(err)
	require.Len(rows, 2)
}

func TestDeleteCascadesThroughForeignKeys(t *testing.T) {
	require := require.New(t)
	d := openUserStore(t, filepath.Join(t.TempDir(), "test.db"))
	defer func() { require.NoError(d.Destroy(context.Background())) }()
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
}

func TestValidationErrors(t *testing.T) {
	require := require.New(t)
	d := openUserStore(t, filepath.Join(t.TempDir(), "test.db"))
	defer func() { require.NoError(d.Destroy(context.Background())) }()
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

	_, err = d.Get(ctx, nql.GetQuery{Table: "User", Search: []string{"ghost"}})
	require.Error(err)
	require.True(nql.ErrWrongValue.Is(err))

	_, err = d.Get(ctx, nql.GetQuery{Table: "Ghost", Search: []string{"pseudo"}})
	require.Error(err)
	require.True(nql.ErrDatabaseError.Is(err))
}
