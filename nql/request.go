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
	"fmt"
	"sort"
)

// Request is a per-table sub-request: a mix of column constraints and
// instruction keys, possibly containing nested sub-requests for reference
// fields.
type Request map[string]interface{}

// Copy returns a shallow copy of the request.
func (r Request) Copy() Request {
	c := make(Request, len(r))
	for k, v := range r {
		c[k] = v
	}
	return c
}

// Parent returns the enclosing request of a nested sub-request, if any.
func (r Request) Parent() Request {
	if p, ok := r["parent"].(Request); ok {
		return p
	}
	return nil
}

// Bool reads an instruction flag such as create, delete or required.
func (r Request) Bool(key string) bool {
	v, ok := r[key]
	if !ok || v == nil {
		return false
	}
	b, ok := v.(bool)
	return ok && b
}

// Classified is the split of a sub-request produced by Classify.
type Classified struct {
	// Primitives holds the request keys that are primitive columns.
	Primitives []string
	// Objects holds the request keys that are object references.
	Objects []string
	// Arrays holds the request keys that are array references.
	Arrays []string
	// Search is the projection: the primitive columns to read back.
	Search []string
	// Request is the residual request, with get expanded and reference
	// mentions in get promoted to sub-requests.
	Request Request
}

// Classify splits a per-table request into primitives, object references,
// array references and the projection list. The wildcard projection '*' is
// expanded to all primitive columns, and reference fields mentioned in get
// become {field: {get: '*'}} sub-requests. A column present both in an
// explicitly listed get and as a top-level constraint is rejected; the
// wildcard keeps constrained columns in the projection instead.
func Classify(table *Table, req Request) (*Classified, error) {
	c := &Classified{Request: req.Copy()}

	projection, wildcard, err := getProjection(table, c.Request)
	if err != nil {
		return nil, err
	}

	for _, field := range projection {
		if _, constrained := c.Request[field]; constrained {
			if !wildcard {
				return nil, ErrBadRequest.New(fmt.Sprintf(
					"field %s of table %s appears both in get and as a constraint",
					field, table.Name))
			}
			c.Search = append(c.Search, field)
			continue
		}
		if table.IsObject(field) || table.IsArray(field) {
			// Promote reference mentions into full sub-requests.
			c.Request[field] = Request{"get": "*"}
		} else if table.IsPrimitive(field) {
			c.Search = append(c.Search, field)
		} else {
			return nil, ErrBadRequest.New(fmt.Sprintf(
				"unknown field %s in get for table %s", field, table.Name))
		}
	}
	delete(c.Request, "get")

	keys := make([]string, 0, len(c.Request))
	for key := range c.Request {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if IsInstruction(key) || key == ReservedID {
			continue
		}
		switch {
		case table.IsPrimitive(key):
			c.Primitives = append(c.Primitives, key)
		case table.IsObject(key):
			c.Objects = append(c.Objects, key)
		case table.IsArray(key):
			c.Arrays = append(c.Arrays, key)
		default:
			return nil, ErrBadRequest.New(fmt.Sprintf(
				"field %s does not exist in table %s", key, table.Name))
		}
	}

	sort.Strings(c.Search)
	return c, nil
}

// getProjection normalizes the get instruction into a list of field names,
// reporting whether it came from the wildcard.
func getProjection(table *Table, req Request) ([]string, bool, error) {
	raw, ok := req["get"]
	if !ok || raw == nil {
		return nil, false, nil
	}

	switch v := raw.(type) {
	case string:
		if v == "*" {
			return table.PrimitiveNames(), true, nil
		}
		return []string{v}, false, nil
	case []string:
		return v, false, nil
	case []interface{}:
		fields := make([]string, len(v))
		for i, f := range v {
			s, ok := f.(string)
			if !ok {
				return nil, false, ErrBadRequest.New(fmt.Sprintf(
					"get must contain field names in table %s, got %v", table.Name, f))
			}
			fields[i] = s
		}
		return fields, false, nil
	default:
		return nil, false, ErrBadRequest.New(fmt.Sprintf(
			"get must be '*' or a list of fields in table %s, got %v", table.Name, raw))
	}
}

// RequestList normalizes a request value that may be a single sub-request or
// a list of sub-requests.
func RequestList(v interface{}) ([]Request, bool) {
	switch r := v.(type) {
	case Request:
		return []Request{r}, true
	case map[string]interface{}:
		return []Request{Request(r)}, true
	case []Request:
		return r, true
	case []interface{}:
		list := make([]Request, len(r))
		for i, e := range r {
			m, ok := e.(map[string]interface{})
			if !ok {
				if rm, ok := e.(Request); ok {
					list[i] = rm
					continue
				}
				return nil, false
			}
			list[i] = Request(m)
		}
		return list, true
	default:
		return nil, false
	}
}
