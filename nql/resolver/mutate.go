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
	"fmt"

	"github.com/dolthub/nestql/nql"
)

// phaseDelete removes every matched row. The table-level delete rule runs
// before any mutation; the driver cascades through association tables and
// downward references.
func phaseDelete(ctx *nql.Context, s *scope) error {
	if !s.del || len(s.results) == 0 {
		return nil
	}

	if !ctx.IsAdmin() {
		for _, row := range s.results {
			if err := s.evalRule(ctx, tableRule(s.rules, "delete"), row, false); err != nil {
				return nql.ErrUnauthorized.New(ctx.AuthID, "delete", s.table.Name)
			}
		}
	}

	ids := nql.RowIDs(s.results)
	if err := s.r.delete(ctx, nql.DeleteQuery{
		Table: s.table.Name,
		Where: nql.Where{nql.ReservedID: ids},
	}); err != nil {
		return err
	}
	for _, row := range s.results {
		row["deleted"] = true
	}

	return s.r.firePlugins(ctx, "onDeletion", func(p *nql.Plugin) map[string]nql.Hook {
		return p.OnDeletion
	}, &nql.HookParams{
		Table:   s.table.Name,
		Request: s.req,
		Parent:  s.parent,
		Results: s.results,
		Deleted: s.results,
	})
}

// phaseUpdate applies the set instruction: primitive values overwrite in
// place, object references resolve to exactly one target whose id is written.
// Array keys of set are handled with the other association changes.
func phaseUpdate(ctx *nql.Context, s *scope) error {
	if s.del || len(s.set) == 0 || len(s.results) == 0 {
		return nil
	}

	values := nql.Row{}
	substituted := map[string]interface{}{}
	for field, value := range s.set {
		switch {
		case s.table.IsPrimitive(field):
			typ, ok := nql.TypeOf(s.table.Columns[field].Type)
			if ok {
				converted, err := typ.Convert(value)
				if err != nil {
					return nql.ErrBadRequest.New(fmt.Sprintf(
						"the value set for %s of table %s does not match its %s type",
						field, s.table.Name, s.table.Columns[field].Type))
				}
				value = converted
			}
			values[field] = value
			substituted[field] = value
		case s.table.IsObject(field):
			sub, ok := asRequest(value)
			if !ok {
				return nql.ErrBadRequest.New(fmt.Sprintf(
					"setting object field %s of table %s requires a sub-request", field, s.table.Name))
			}
			target := s.table.Objects[field]
			rows, err := s.r.resolveTable(ctx, target, sub, s.req)
			if err != nil {
				return err
			}
			switch {
			case len(rows) == 0:
				return nql.ErrNotSettable.New(field, s.table.Name, sub)
			case len(rows) > 1:
				return nql.ErrNotUnique.New(field, s.table.Name)
			}
			id, _ := rows[0].ID()
			values[nql.ObjectColumn(field)] = id
			substituted[field] = rows[0]
		case s.table.IsArray(field):
			// Replaced wholesale in the association phase.
		}
	}

	oldValues := map[int64]nql.Row{}
	for _, row := range s.results {
		id, ok := row.ID()
		if !ok {
			continue
		}
		old := nql.Row{}
		for column := range values {
			old[column] = row[column]
		}
		oldValues[id] = old
	}

	if len(values) > 0 {
		if err := s.r.update(ctx, nql.UpdateQuery{
			Table:  s.table.Name,
			Values: values,
			Where:  nql.Where{nql.ReservedID: nql.RowIDs(s.results)},
		}); err != nil {
			return err
		}
	}

	for _, row := range s.results {
		for field, value := range substituted {
			row[field] = value
		}
		for column, value := range values {
			row[column] = value
		}
		row["edited"] = true
		ctx.Cache.AddCache(s.table.Name, row)
	}

	return s.r.firePlugins(ctx, "onUpdate", func(p *nql.Plugin) map[string]nql.Hook {
		return p.OnUpdate
	}, &nql.HookParams{
		Table:     s.table.Name,
		Request:   s.req,
		Parent:    s.parent,
		Results:   s.results,
		Objects:   s.results,
		OldValues: oldValues,
		NewValues: values,
	})
}

// phaseUpdateAssociations applies the association changes of the
// sub-request: set on an array field replaces the whole linked set, remove
// unlinks the resolved targets, add links them (Cartesian product over owner
// ids and resolved ids).
func phaseUpdateAssociations(ctx *nql.Context, s *scope) error {
	if s.del || len(s.results) == 0 {
		return nil
	}
	ownerIDs := nql.RowIDs(s.results)

	for field := range s.set {
		if !s.table.IsArray(field) {
			continue
		}
		children, err := s.resolveTargets(ctx, field, s.set[field])
		if err != nil {
			return err
		}
		if err := s.unlinkChildren(ctx, field, ownerIDs, nil); err != nil {
			return err
		}
		if err := s.linkChildren(ctx, field, ownerIDs, children); err != nil {
			return err
		}
		for _, row := range s.results {
			row[field] = children
			row["edited"] = true
		}
		if err := s.fireListUpdate(ctx, field, children, nil); err != nil {
			return err
		}
	}

	for _, field := range s.class.Arrays {
		sub, ok := asRequest(s.req[field])
		if !ok {
			continue
		}

		if sub["remove"] != nil {
			removed, err := s.resolveTargets(ctx, field, sub["remove"])
			if err != nil {
				return err
			}
			if err := s.unlinkChildren(ctx, field, ownerIDs, removed); err != nil {
				return err
			}
			if err := s.fireListUpdate(ctx, field, nil, removed); err != nil {
				return err
			}
		}

		if sub["add"] != nil {
			added, err := s.resolveTargets(ctx, field, sub["add"])
			if err != nil {
				return err
			}
			if err := s.linkChildren(ctx, field, ownerIDs, added); err != nil {
				return err
			}
			if err := s.fireListUpdate(ctx, field, added, nil); err != nil {
				return err
			}
		}
	}
	return nil
}

// resolveTargets resolves the sub-requests of an association change in the
// child table, concatenating list entries in order.
func (s *scope) resolveTargets(ctx *nql.Context, field string, raw interface{}) ([]nql.Row, error) {
	subs, ok := nql.RequestList(raw)
	if !ok {
		return nil, nql.ErrBadRequest.New(fmt.Sprintf(
			"the targets for array field %s of table %s must be objects", field, s.table.Name))
	}
	target := s.table.Arrays[field]
	resolved := []nql.Row{}
	for _, sub := range subs {
		rows, err := s.r.resolveTable(ctx, target, sub, s.req)
		if err != nil {
			return nil, err
		}
		resolved = append(resolved, rows...)
	}
	return resolved, nil
}

func (s *scope) fireListUpdate(ctx *nql.Context, field string, added, removed []nql.Row) error {
	return s.r.firePlugins(ctx, "onListUpdate", func(p *nql.Plugin) map[string]nql.Hook {
		return p.OnListUpdate
	}, &nql.HookParams{
		Table:   s.table.Name,
		Request: s.req,
		Parent:  s.parent,
		Results: s.results,
		Field:   field,
		Added:   added,
		Removed: removed,
	})
}
