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

package resolver

import (
	"context"

	"github.com/spf13/cast"

	"github.com/dolthub/nestql/nql"
)

// get runs a driver read with the soft timeout, memoizing identical queries
// within the transaction. A WRONG_VALUE from the driver is rewritten to
// ACCESS_DENIED on the queried table.
func (r *Resolver) get(ctx *nql.Context, q nql.GetQuery) ([]nql.Row, error) {
	key, keyErr := nql.QueryKey(q)
	if keyErr == nil {
		if rows, ok := ctx.Cache.CachedQuery(key); ok {
			return copyRows(rows), nil
		}
	}

	tctx, cancel := context.WithTimeout(ctx, nql.DriverTimeout)
	defer cancel()
	rows, err := r.Driver.Get(tctx, q)
	if err != nil {
		if nql.ErrWrongValue.Is(err) {
			return nil, nql.ErrAccessDenied.New(ctx.AuthID, q.Table)
		}
		return nil, driverError(err)
	}

	if keyErr == nil {
		ctx.Cache.CacheQuery(key, copyRows(rows))
	}
	return rows, nil
}

func (r *Resolver) create(ctx *nql.Context, q nql.CreateQuery) ([]int64, error) {
	tctx, cancel := context.WithTimeout(ctx, nql.DriverTimeout)
	defer cancel()
	ids, err := r.Driver.Create(tctx, q)
	if err != nil {
		return nil, driverError(err)
	}
	ctx.Cache.InvalidateQueries()
	return ids, nil
}

func (r *Resolver) update(ctx *nql.Context, q nql.UpdateQuery) error {
	tctx, cancel := context.WithTimeout(ctx, nql.DriverTimeout)
	defer cancel()
	if err := r.Driver.Update(tctx, q); err != nil {
		return driverError(err)
	}
	ctx.Cache.InvalidateQueries()
	return nil
}

func (r *Resolver) delete(ctx *nql.Context, q nql.DeleteQuery) error {
	tctx, cancel := context.WithTimeout(ctx, nql.DriverTimeout)
	defer cancel()
	if err := r.Driver.Delete(tctx, q); err != nil {
		return driverError(err)
	}
	// The driver cascades through association tables and downward
	// references, so every cached row is suspect after a delete.
	ctx.Cache.UncacheAll()
	ctx.Cache.InvalidateQueries()
	return nil
}

// driverError passes taxonomy errors through untouched and wraps anything
// else as DATABASE_ERROR.
func driverError(err error) error {
	if nql.ErrorName(err) != "DATABASE_ERROR" || nql.ErrDatabaseError.Is(err) {
		return err
	}
	return nql.ErrDatabaseError.New(err)
}

// copyRows shields memoized rows from the in-place mutations later phases
// apply to results.
func copyRows(rows []nql.Row) []nql.Row {
	out := make([]nql.Row, len(rows))
	for i, row := range rows {
		out[i] = row.Copy()
	}
	return out
}

func toID(v interface{}) (int64, error) {
	return cast.ToInt64E(v)
}
