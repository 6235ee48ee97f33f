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

	"github.com/spf13/cast"

	"github.com/dolthub/nestql/nql"
)

// phaseValidate checks the shape of every constraint and instruction of the
// sub-request. Admin requests skip validation entirely.
func phaseValidate(ctx *nql.Context, s *scope) error {
	if ctx.IsAdmin() {
		return nil
	}
	table := s.table

	if s.create && s.del {
		return nql.ErrBadRequest.New("create and delete cannot be combined in table " + table.Name)
	}

	for _, field := range s.class.Primitives {
		if err := checkPrimitiveConstraint(table.Name, field, s.req[field], s.create); err != nil {
			return err
		}
	}
	if v, ok := s.req[nql.ReservedID]; ok {
		if err := checkPrimitiveConstraint(table.Name, nql.ReservedID, v, false); err != nil {
			return err
		}
	}
	if s.create {
		if err := checkCreateValues(table, s.class, s.req); err != nil {
			return err
		}
	}

	for _, field := range s.class.Objects {
		sub := s.req[field]
		if sub == nil {
			continue
		}
		m, ok := asRequest(sub)
		if !ok {
			return nql.ErrBadRequest.New(fmt.Sprintf(
				"the constraint on object field %s of table %s must be an object", field, table.Name))
		}
		if m["add"] != nil || m["remove"] != nil {
			return nql.ErrBadRequest.New(fmt.Sprintf(
				"add and remove are not allowed inside object field %s of table %s", field, table.Name))
		}
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
				field, table.Name))
		}
		for _, m := range subs {
			if (s.create || s.del) && (m["add"] != nil || m["remove"] != nil) {
				return nql.ErrBadRequest.New(fmt.Sprintf(
					"add and remove on %s cannot be combined with create or delete in table %s", field, table.Name))
			}
		}
	}

	if err := checkSet(table, s.set); err != nil {
		return err
	}

	if err := checkIntInstruction(table.Name, s.req, "limit"); err != nil {
		return err
	}
	if err := checkIntInstruction(table.Name, s.req, "offset"); err != nil {
		return err
	}
	return checkOrder(table, s.req["order"])
}

// checkPrimitiveConstraint accepts null, a primitive value, a list of
// primitives (OR semantics) or an operator object with primitive leaves (AND
// semantics). In create mode only a single primitive value is allowed.
func checkPrimitiveConstraint(tableName, field string, v interface{}, create bool) error {
	switch value := v.(type) {
	case nil:
		return nil
	case nql.Request, map[string]interface{}:
		if create {
			return nql.ErrBadRequest.New(fmt.Sprintf(
				"the value created for %s of table %s must be a primitive", field, tableName))
		}
		m, _ := asRequest(value)
		for op, leaf := range m {
			if !nql.IsOperator(op) {
				return nql.ErrBadRequest.New(fmt.Sprintf(
					"unknown operator %s on field %s of table %s", op, field, tableName))
			}
			if isStructured(leaf) {
				if _, isList := asValueList(leaf); !isList || op != "not" && op != "!" {
					return nql.ErrBadRequest.New(fmt.Sprintf(
						"operator %s on field %s of table %s needs a primitive operand", op, field, tableName))
				}
			}
		}
		return nil
	case []interface{}, []string, []int, []int64, []float64:
		if create {
			return nql.ErrBadRequest.New(fmt.Sprintf(
				"cannot create several values at once for %s of table %s", field, tableName))
		}
		list, ok := asValueList(value)
		if !ok {
			return nql.ErrBadRequest.New(fmt.Sprintf(
				"the list constraining %s of table %s must contain primitives", field, tableName))
		}
		for _, e := range list {
			if isStructured(e) {
				return nql.ErrBadRequest.New(fmt.Sprintf(
					"the list constraining %s of table %s must contain primitives", field, tableName))
			}
		}
		return nil
	default:
		return nil
	}
}

// checkSet verifies that set is a plain object whose primitive values
// type-check and whose reference values are sub-requests.
func checkSet(table *nql.Table, set nql.Request) error {
	for field, value := range set {
		switch {
		case table.IsPrimitive(field):
			col := table.Columns[field]
			typ, _ := nql.TypeOf(col.Type)
			if isStructured(value) || typ != nil && !typ.Check(value) {
				return nql.ErrBadRequest.New(fmt.Sprintf(
					"the value set for %s of table %s does not match its %s type",
					field, table.Name, col.Type))
			}
		case table.IsObject(field):
			if _, ok := asRequest(value); !ok {
				return nql.ErrBadRequest.New(fmt.Sprintf(
					"setting object field %s of table %s requires a sub-request", field, table.Name))
			}
		case table.IsArray(field):
			if _, ok := nql.RequestList(value); !ok {
				return nql.ErrBadRequest.New(fmt.Sprintf(
					"setting array field %s of table %s requires sub-requests", field, table.Name))
			}
		default:
			return nql.ErrBadRequest.New(fmt.Sprintf(
				"set targets unknown field %s of table %s", field, table.Name))
		}
	}
	return nil
}

// checkCreateValues type-checks the primitive values of a create instruction.
func checkCreateValues(table *nql.Table, class *nql.Classified, req nql.Request) error {
	for _, field := range class.Primitives {
		value := req[field]
		if value == nil {
			continue
		}
		col := table.Columns[field]
		typ, ok := nql.TypeOf(col.Type)
		if ok && !typ.Check(value) {
			return nql.ErrBadRequest.New(fmt.Sprintf(
				"the value created for %s of table %s does not match its %s type",
				field, table.Name, col.Type))
		}
	}
	return nil
}

func checkIntInstruction(tableName string, req nql.Request, key string) error {
	v, ok := req[key]
	if !ok || v == nil {
		return nil
	}
	switch v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return nil
	case float64:
		f := v.(float64)
		if f == float64(int64(f)) {
			return nil
		}
	}
	return nql.ErrBadRequest.New(fmt.Sprintf("%s of table %s must be an integer", key, tableName))
}

// checkOrder accepts primitive column names and object reference names, each
// optionally prefixed with '-' for descending order. Reference names order by
// their stored fieldId.
func checkOrder(table *nql.Table, v interface{}) error {
	if v == nil {
		return nil
	}
	columns, ok := orderList(v)
	if !ok {
		return nql.ErrBadRequest.New("order of table " + table.Name + " must be a list of column names")
	}
	for _, column := range columns {
		name := strings.TrimPrefix(column, "-")
		if name == nql.ReservedID || table.IsPrimitive(name) {
			continue
		}
		if table.IsObject(name) {
			continue
		}
		return nql.ErrBadRequest.New(fmt.Sprintf(
			"cannot order table %s by unknown column %s", table.Name, name))
	}
	return nil
}

func orderList(v interface{}) ([]string, bool) {
	switch list := v.(type) {
	case []string:
		return list, true
	case []interface{}:
		out := make([]string, len(list))
		for i, e := range list {
			s, ok := e.(string)
			if !ok {
				return nil, false
			}
			out[i] = s
		}
		return out, true
	case string:
		return []string{list}, true
	default:
		return nil, false
	}
}

// isStructured reports whether v is a nested map or list rather than a
// primitive value.
func isStructured(v interface{}) bool {
	switch v.(type) {
	case nql.Request, map[string]interface{}, []interface{}, []string, []int, []int64, []float64, []nql.Request:
		return true
	default:
		return false
	}
}

func asValueList(v interface{}) ([]interface{}, bool) {
	switch list := v.(type) {
	case []interface{}:
		return list, true
	case []string:
		out := make([]interface{}, len(list))
		for i, e := range list {
			out[i] = e
		}
		return out, true
	case []int:
		out := make([]interface{}, len(list))
		for i, e := range list {
			out[i] = e
		}
		return out, true
	case []int64:
		out := make([]interface{}, len(list))
		for i, e := range list {
			out[i] = e
		}
		return out, true
	case []float64:
		out := make([]interface{}, len(list))
		for i, e := range list {
			out[i] = e
		}
		return out, true
	default:
		return nil, false
	}
}

// intInstruction reads an integer instruction such as limit or offset.
func intInstruction(req nql.Request, key string) (int, bool) {
	v, ok := req[key]
	if !ok || v == nil {
		return 0, false
	}
	n, err := cast.ToIntE(v)
	if err != nil {
		return 0, false
	}
	return n, true
}
