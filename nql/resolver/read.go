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
	"strings"

	"github.com/dolthub/nestql/nql"
)

// phaseResolveObjects recursively resolves the sub-request of every
// constrained object field in its referenced table. The resolved row must be
// unique; it is substituted in place and its reservedId constrains the main
// query. Projection-only mentions are deferred to a per-row resolution after
// the main query.
func phaseResolveObjects(ctx *nql.Context, s *scope) error {
	for _, field := range s.class.Objects {
		raw := s.req[field]
		if raw == nil {
			// An explicit null constrains the reference to be unset.
			continue
		}
		sub, ok := asRequest(raw)
		if !ok {
			return nql.ErrBadRequest.New(fmt.Sprintf(
				"the constraint on object field %s of table %s must be an object",
				field, s.table.Name))
		}

		if !s.create && isProjectionOnly(sub) {
			s.projected = append(s.projected, field)
			continue
		}

		target := s.table.Objects[field]
		rows, err := s.r.resolveTable(ctx, target, sub, s.req)
		if err != nil {
			if s.create && nql.ErrNotFound.Is(err) {
				// A creation cannot proceed without its references.
				return nql.ErrRequired.New(target, sub)
			}
			return err
		}
		switch {
		case len(rows) == 0:
			if s.create {
				return nql.ErrRequired.New(target, sub)
			}
			return nql.ErrNotFound.New(target, sub)
		case len(rows) > 1:
			return nql.ErrNotUnique.New(field, s.table.Name)
		}
		s.objects[field] = rows[0]
		s.req[field] = rows[0]
	}
	return nil
}

// isProjectionOnly reports whether a sub-request carries no constraint or
// instruction beyond its projection.
func isProjectionOnly(req nql.Request) bool {
	for key := range req {
		switch key {
		case "get", "limit", "offset", "order", nql.TableNameKey, "parent":
		default:
			return false
		}
	}
	return true
}

// phaseGetOrCreate branches between the creation path and the main read.
func phaseGetOrCreate(ctx *nql.Context, s *scope) error {
	if s.create {
		return resolveCreate(ctx, s)
	}
	return resolveGet(ctx, s)
}

// resolveGet runs the main query of the sub-request: equality on primitive
// constraints and resolved reference ids, with limit, offset and order
// applied. Empty list constraints and limit 0 short-circuit to an empty
// result. Single-row lookups are served from the cache when the projection is
// fully known.
func resolveGet(ctx *nql.Context, s *scope) error {
	where := nql.Where{}
	for _, field := range s.class.Primitives {
		v := s.req[field]
		if list, ok := asValueList(v); ok && len(list) == 0 {
			s.results = []nql.Row{}
			return nil
		}
		where[field] = v
	}
	if v, ok := s.req[nql.ReservedID]; ok {
		if list, ok := asValueList(v); ok && len(list) == 0 {
			s.results = []nql.Row{}
			return nil
		}
		where[nql.ReservedID] = v
	}
	for _, field := range s.class.Objects {
		if s.req[field] == nil {
			if _, present := s.req[field]; present {
				where[nql.ObjectColumn(field)] = nil
			}
			continue
		}
		if row, ok := s.objects[field]; ok {
			id, _ := row.ID()
			where[nql.ObjectColumn(field)] = id
		}
	}

	limit, hasLimit := intInstruction(s.req, "limit")
	if hasLimit && limit == 0 {
		s.results = []nql.Row{}
		return nil
	}
	offset, _ := intInstruction(s.req, "offset")
	order, _ := orderList(s.req["order"])
	order = s.physicalOrder(order)

	search := s.searchColumns()

	if rows, ok := s.cachedLookup(ctx, where, search, offset, hasLimit); ok {
		s.results = rows
	} else {
		var err error
		s.results, err = s.r.get(ctx, nql.GetQuery{
			Table:  s.table.Name,
			Search: search,
			Where:  where,
			Offset: offset,
			Limit:  limit,
			Order:  order,
		})
		if err != nil {
			return err
		}
	}

	for _, row := range s.results {
		ctx.Cache.AddCache(s.table.Name, row)
	}
	if len(s.results) == 0 && s.req.Bool("required") {
		return nql.ErrNotFound.New(s.table.Name, s.req)
	}
	return s.attachObjects(ctx)
}

// physicalOrder rewrites object reference names in an order list to the
// fieldId column the stored rows actually carry.
func (s *scope) physicalOrder(columns []string) []string {
	out := make([]string, len(columns))
	for i, column := range columns {
		name := strings.TrimPrefix(column, "-")
		if s.table.IsObject(name) {
			out[i] = column[:len(column)-len(name)] + nql.ObjectColumn(name)
			continue
		}
		out[i] = column
	}
	return out
}

// searchColumns builds the driver projection: the requested primitives, the
// reservedId, the fieldId of every object reference and the primitive columns
// touched by set, whose previous values the update hook reports.
func (s *scope) searchColumns() []string {
	seen := map[string]struct{}{nql.ReservedID: {}}
	search := []string{nql.ReservedID}
	add := func(column string) {
		if _, ok := seen[column]; !ok {
			seen[column] = struct{}{}
			search = append(search, column)
		}
	}
	for _, field := range s.class.Search {
		add(field)
	}
	for _, field := range s.class.Objects {
		add(nql.ObjectColumn(field))
	}
	for _, field := range s.projected {
		add(nql.ObjectColumn(field))
	}
	for field := range s.set {
		if s.table.IsPrimitive(field) {
			add(field)
		}
	}
	return search
}

// cachedLookup serves a single-row read from the per-transaction cache when
// the request pins one reservedId and every searched column is already known.
func (s *scope) cachedLookup(ctx *nql.Context, where nql.Where, search []string, offset int, hasLimit bool) ([]nql.Row, bool) {
	if offset != 0 || hasLimit || len(where) != 1 {
		return nil, false
	}
	id, err := toID(where[nql.ReservedID])
	if err != nil {
		return nil, false
	}
	row, ok := ctx.Cache.ReadCache(s.table.Name, id, search)
	if !ok {
		return nil, false
	}
	return []nql.Row{row}, true
}

// attachObjects substitutes resolved reference rows into the results:
// constrained objects were resolved once, projection-only objects resolve per
// row from the row's fieldId.
func (s *scope) attachObjects(ctx *nql.Context) error {
	for field, resolved := range s.objects {
		for _, row := range s.results {
			row[field] = resolved
		}
	}
	for _, field := range s.projected {
		sub, _ := asRequest(s.req[field])
		target := s.table.Objects[field]
		column := nql.ObjectColumn(field)
		for _, row := range s.results {
			refID := row[column]
			if refID == nil {
				row[field] = nil
				continue
			}
			childReq := nql.Request(sub).Copy()
			childReq[nql.ReservedID] = refID
			children, err := s.r.resolveTable(ctx.Derive(), target, childReq, s.req)
			if err != nil {
				return err
			}
			if len(children) == 0 {
				row[field] = nil
				continue
			}
			row[field] = children[0]
		}
	}
	return nil
}

// phaseResolveChildren resolves array references: for each owner row the
// association table yields the linked ids, which the child table resolves
// recursively under the sub-request's constraints. Owners without matching
// children are dropped when the sub-request is required.
func phaseResolveChildren(ctx *nql.Context, s *scope) error {
	if s.create {
		// The creation path linked its children already.
		return nil
	}

	for _, field := range s.class.Arrays {
		raw := s.req[field]
		if raw == nil {
			continue
		}
		subs, ok := nql.RequestList(raw)
		if !ok {
			return nql.ErrBadRequest.New(fmt.Sprintf(
				"the constraint on array field %s of table %s must be an object or a list of objects",
				field, s.table.Name))
		}
		childReqs := []nql.Request{}
		required := false
		for _, sub := range subs {
			if child := childConstraint(sub); child != nil {
				childReqs = append(childReqs, child)
				required = required || sub.Bool("required")
			}
		}
		if len(childReqs) == 0 {
			// Only add or remove instructions: nothing to resolve here.
			continue
		}

		target := s.table.Arrays[field]
		assoc := nql.AssociationTable(field, s.table.Name)
		ownerCol, fieldCol := nql.AssociationColumns(field, s.table.Name)

		kept := s.results[:0]
		for _, row := range s.results {
			id, ok := row.ID()
			if !ok {
				continue
			}
			links, err := s.r.get(ctx, nql.GetQuery{
				Table:  assoc,
				Search: []string{fieldCol},
				Where:  nql.Where{ownerCol: id},
			})
			if err != nil {
				return err
			}
			ids := make([]int64, 0, len(links))
			for _, link := range links {
				linkID, err := toID(link[fieldCol])
				if err != nil {
					continue
				}
				ids = append(ids, linkID)
			}

			children := []nql.Row{}
			if len(ids) > 0 {
				seen := map[int64]struct{}{}
				for _, childReq := range childReqs {
					req := childReq.Copy()
					req[nql.ReservedID] = ids
					resolved, err := s.r.resolveTable(ctx, target, req, s.req)
					if err != nil {
						return err
					}
					for _, child := range resolved {
						if childID, ok := child.ID(); ok {
							if _, dup := seen[childID]; dup {
								continue
							}
							seen[childID] = struct{}{}
						}
						children = append(children, child)
					}
				}
			}
			row[field] = children
			if required && len(children) == 0 {
				continue
			}
			kept = append(kept, row)
		}
		s.results = kept
	}
	return nil
}

// childConstraint strips the association instructions from an array
// sub-request, returning nil when nothing but add or remove is left.
func childConstraint(sub nql.Request) nql.Request {
	child := nql.Request{}
	real := false
	for key, value := range sub {
		switch key {
		case "add", "remove", "required", nql.TableNameKey, "parent":
			continue
		}
		child[key] = value
		real = true
	}
	if !real {
		if _, hasAdd := sub["add"]; hasAdd {
			return nil
		}
		if _, hasRemove := sub["remove"]; hasRemove {
			return nil
		}
		// An empty sub-request still targets all linked children.
	}
	return child
}
