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

package rule

import (
	"fmt"
	"strings"

	"github.com/dolthub/nestql/nql"
)

// A path addresses an entity, a list or a field value relative to the row a
// rule is evaluated against. Segments are separated by dots: "self" is the
// current row, "parent" (or "..") moves to the enclosing request, and any
// other segment walks a declared field.
type path struct {
	raw      string
	segments []string
}

func parsePath(raw string) path {
	if raw == "" || raw == "self" {
		return path{raw: raw}
	}
	return path{raw: raw, segments: strings.Split(raw, ".")}
}

func (p path) String() string { return p.raw }

// check validates every segment against the declared tables, starting from
// tableName.
func (p path) check(tables nql.Tables, tableName string) error {
	current := tableName
	for _, seg := range p.segments {
		if seg == "self" || seg == "parent" || seg == ".." {
			// Parent tables are only known at evaluation time.
			if seg != "self" {
				return nil
			}
			continue
		}
		table, ok := tables[current]
		if !ok {
			return nql.ErrBadRequest.New("rule path " + p.raw + " starts in unknown table " + current)
		}
		if target, ok := table.Objects[seg]; ok {
			current = target
			continue
		}
		if target, ok := table.Arrays[seg]; ok {
			current = target
			continue
		}
		if table.IsPrimitive(seg) {
			continue
		}
		return nql.ErrBadRequest.New(fmt.Sprintf(
			"rule path %s references unknown field %s of table %s", p.raw, seg, current))
	}
	return nil
}

// node is one step of a path walk: the table it lives in, plus either a
// materialized row (object mode) or the raw sub-request (request mode).
type node struct {
	table   string
	row     nql.Row
	request nql.Request
}

// resolve walks the path from the rule scope and returns the terminal nodes.
// Field steps in object mode are materialized through admin sub-queries
// inside the open transaction.
func (p path) resolve(scope *nql.RuleScope) ([]node, error) {
	start := node{table: scope.TableName, request: scope.Request}
	if !scope.RequestFlag {
		start.row = scope.Object
	}
	nodes := []node{start}

	for _, seg := range p.segments {
		switch seg {
		case "self":
			continue
		case "parent", "..":
			next := make([]node, 0, len(nodes))
			for _, n := range nodes {
				parent := n.request.Parent()
				if parent == nil {
					return nil, fmt.Errorf("path %s walks above the top-level request", p.raw)
				}
				table, _ := parent[nql.TableNameKey].(string)
				next = append(next, node{table: table, request: parent})
			}
			nodes = next
		default:
			next := make([]node, 0, len(nodes))
			for _, n := range nodes {
				children, err := n.step(scope, seg)
				if err != nil {
					return nil, err
				}
				next = append(next, children...)
			}
			nodes = next
		}
	}
	return nodes, nil
}

// step resolves one field segment from a node.
func (n node) step(scope *nql.RuleScope, field string) ([]node, error) {
	table, ok := scope.Tables[n.table]
	if !ok {
		return nil, fmt.Errorf("unknown table %s in rule path", n.table)
	}

	if n.row == nil {
		// Request mode: walk the request structure itself.
		value, ok := n.request[field]
		if !ok || value == nil {
			return nil, nil
		}
		target := n.table
		if t, ok := table.Objects[field]; ok {
			target = t
		} else if t, ok := table.Arrays[field]; ok {
			target = t
		} else {
			return []node{{table: n.table, request: nql.Request{field: value}}}, nil
		}
		subs, ok := nql.RequestList(value)
		if !ok {
			return nil, fmt.Errorf("field %s of the request is not a sub-request", field)
		}
		nodes := make([]node, len(subs))
		for i, sub := range subs {
			nodes[i] = node{table: target, request: sub}
		}
		return nodes, nil
	}

	value, err := n.fetch(scope, field)
	if err != nil {
		return nil, err
	}
	if value == nil {
		return nil, nil
	}

	switch {
	case table.IsObject(field):
		row, ok := value.(nql.Row)
		if !ok {
			return nil, fmt.Errorf("field %s did not resolve to an object", field)
		}
		return []node{{table: table.Objects[field], row: row, request: n.request}}, nil
	case table.IsArray(field):
		rows, ok := value.([]nql.Row)
		if !ok {
			return nil, fmt.Errorf("field %s did not resolve to a list", field)
		}
		nodes := make([]node, len(rows))
		for i, row := range rows {
			nodes[i] = node{table: table.Arrays[field], row: row, request: n.request}
		}
		return nodes, nil
	default:
		return []node{{table: n.table, row: nql.Row{field: value}, request: n.request}}, nil
	}
}

// fetch returns the value of field on the node's row, reading through an
// admin sub-query when the row does not carry it yet.
func (n node) fetch(scope *nql.RuleScope, field string) (interface{}, error) {
	if v, ok := n.row[field]; ok {
		return v, nil
	}

	id, ok := n.row.ID()
	if !ok {
		return nil, fmt.Errorf("cannot address field %s of a row without reservedId", field)
	}
	if scope.Ctx == nil || scope.Ctx.Query == nil {
		return nil, fmt.Errorf("no query helper available to resolve field %s", field)
	}

	res, err := scope.Ctx.Query(nql.Request{
		n.table: nql.Request{nql.ReservedID: id, "get": []string{field}},
	}, nql.QueryOptions{Admin: true})
	if err != nil {
		return nil, err
	}
	rows := res[n.table]
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0][field], nil
}

// entities returns the terminal nodes as rows, materializing reservedIds for
// request-mode nodes when they carry one.
func entities(nodes []node) []nql.Row {
	rows := make([]nql.Row, 0, len(nodes))
	for _, n := range nodes {
		if n.row != nil {
			rows = append(rows, n.row)
			continue
		}
		if n.request != nil {
			if id, ok := n.request[nql.ReservedID]; ok {
				rows = append(rows, nql.Row{nql.ReservedID: id})
			}
		}
	}
	return rows
}
