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

// resolveCreate inserts one row built from the primitive values and the
// reservedIds of the resolved object references, then links the pre-resolved
// array children through their association tables. The created row is cached
// and returned with the created flag set.
func resolveCreate(ctx *nql.Context, s *scope) error {
	children, err := resolveCreateChildren(ctx, s)
	if err != nil {
		return err
	}

	element := nql.Row{}
	for _, field := range s.class.Primitives {
		value := s.req[field]
		if _, isList := asValueList(value); isList {
			return nql.ErrBadRequest.New(fmt.Sprintf(
				"cannot create several values at once for %s of table %s", field, s.table.Name))
		}
		typ, ok := nql.TypeOf(s.table.Columns[field].Type)
		if ok {
			converted, err := typ.Convert(value)
			if err != nil {
				return nql.ErrBadRequest.New(fmt.Sprintf(
					"the value created for %s of table %s does not match its %s type",
					field, s.table.Name, s.table.Columns[field].Type))
			}
			value = converted
		}
		element[field] = value
	}
	for field, resolved := range s.objects {
		id, ok := resolved.ID()
		if !ok {
			return nql.ErrNotSettable.New(field, s.table.Name, s.req[field])
		}
		element[nql.ObjectColumn(field)] = id
	}

	ids, err := s.r.create(ctx, nql.CreateQuery{
		Table:    s.table.Name,
		Elements: []nql.Row{element},
	})
	if err != nil {
		return err
	}
	if len(ids) != 1 {
		return nql.ErrDatabaseError.New(fmt.Sprintf(
			"creation in table %s returned %d ids", s.table.Name, len(ids)))
	}

	result := element.Copy()
	result[nql.ReservedID] = ids[0]
	for field, resolved := range s.objects {
		result[field] = resolved
	}
	ctx.Cache.AddCache(s.table.Name, result)

	for _, field := range s.class.Arrays {
		linked := children[field]
		if err := s.linkChildren(ctx, field, []int64{ids[0]}, linked); err != nil {
			return err
		}
		result[field] = linked
	}

	result["created"] = true
	s.results = []nql.Row{result}

	return s.r.firePlugins(ctx, "onCreation", func(p *nql.Plugin) map[string]nql.Hook {
		return p.OnCreation
	}, &nql.HookParams{
		Table:   s.table.Name,
		Request: s.req,
		Parent:  s.parent,
		Results: s.results,
		Created: result,
	})
}

// resolveCreateChildren resolves the sub-requests of every array field before
// the owner exists, so the creation fails early when a reference is missing.
func resolveCreateChildren(ctx *nql.Context, s *scope) (map[string][]nql.Row, error) {
	children := map[string][]nql.Row{}
	for _, field := range s.class.Arrays {
		raw := s.req[field]
		if raw == nil {
			children[field] = []nql.Row{}
			continue
		}
		subs, ok := nql.RequestList(raw)
		if !ok {
			return nil, nql.ErrBadRequest.New(fmt.Sprintf(
				"the value of array field %s of table %s must be an object or a list",
				field, s.table.Name))
		}
		target := s.table.Arrays[field]
		resolved := []nql.Row{}
		for _, sub := range subs {
			rows, err := s.r.resolveTable(ctx, target, sub, s.req)
			if err != nil {
				return nil, err
			}
			if len(rows) == 0 {
				return nil, nql.ErrRequired.New(target, sub)
			}
			resolved = append(resolved, rows...)
		}
		children[field] = resolved
	}
	return children, nil
}

// linkChildren inserts one association row per (owner, child) pair.
func (s *scope) linkChildren(ctx *nql.Context, field string, ownerIDs []int64, children []nql.Row) error {
	if len(children) == 0 || len(ownerIDs) == 0 {
		return nil
	}
	assoc := nql.AssociationTable(field, s.table.Name)
	ownerCol, fieldCol := nql.AssociationColumns(field, s.table.Name)

	elements := make([]nql.Row, 0, len(ownerIDs)*len(children))
	for _, ownerID := range ownerIDs {
		for _, child := range children {
			childID, ok := child.ID()
			if !ok {
				return nql.ErrNotSettable.New(field, s.table.Name, child)
			}
			elements = append(elements, nql.Row{ownerCol: ownerID, fieldCol: childID})
		}
	}
	_, err := s.r.create(ctx, nql.CreateQuery{Table: assoc, Elements: elements})
	return err
}

// unlinkChildren removes the association rows matching the given owners and
// children; children nil unlinks every child of the owners.
func (s *scope) unlinkChildren(ctx *nql.Context, field string, ownerIDs []int64, children []nql.Row) error {
	if len(ownerIDs) == 0 {
		return nil
	}
	assoc := nql.AssociationTable(field, s.table.Name)
	ownerCol, fieldCol := nql.AssociationColumns(field, s.table.Name)

	where := nql.Where{ownerCol: ownerIDs}
	if children != nil {
		ids := nql.RowIDs(children)
		if len(ids) == 0 {
			return nil
		}
		where[fieldCol] = ids
	}
	return s.r.delete(ctx, nql.DeleteQuery{Table: assoc, Where: where})
}
