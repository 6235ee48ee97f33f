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
	"sort"
	"strconv"
	"strings"
	"unicode"
)

// ReservedID is the implicit auto-increment primary key injected into every
// physical table.
const ReservedID = "reservedId"

// TableNameKey is the declaration key holding the table's own name after the
// preparer has processed it.
const TableNameKey = "tableName"

// reservedFieldNames may not be used as field names in a declared table.
var reservedFieldNames = map[string]struct{}{
	ReservedID: {}, "set": {}, "get": {}, "create": {}, "delete": {},
	"add": {}, "remove": {}, "not": {}, "like": {}, "or": {}, "limit": {},
	"offset": {}, "order": {}, "tableName": {}, "foreignKeys": {},
	"parent": {}, "required": {}, "created": {}, "deleted": {}, "edited": {},
	"type": {}, "reserved": {},
}

// instructionKeys are the per-table request keys that carry instructions
// rather than column constraints.
var instructionKeys = map[string]struct{}{
	"set": {}, "get": {}, "create": {}, "delete": {}, "add": {},
	"remove": {}, "limit": {}, "offset": {}, "order": {}, "required": {},
	"parent": {}, "tableName": {},
}

// constraintOperators are the keys allowed inside a primitive constraint
// object. Symbolic and word forms are both accepted.
var constraintOperators = map[string]struct{}{
	"not": {}, "like": {}, "gt": {}, "ge": {}, "lt": {}, "le": {},
	"<": {}, ">": {}, "<=": {}, ">=": {}, "~": {}, "!": {},
}

// IsReservedField reports whether name may not be declared as a field.
func IsReservedField(name string) bool {
	_, ok := reservedFieldNames[name]
	return ok
}

// IsInstruction reports whether a request key is an instruction.
func IsInstruction(key string) bool {
	_, ok := instructionKeys[key]
	return ok
}

// IsOperator reports whether a key is a valid constraint operator.
func IsOperator(key string) bool {
	_, ok := constraintOperators[key]
	return ok
}

// Column is a fully expanded primitive column descriptor.
type Column struct {
	Type          string
	Length        int
	Unsigned      bool
	NotNull       bool
	Default       interface{}
	HasDefault    bool
	AutoIncrement bool
}

// ParseColumn expands the "type/length" shorthand into a Column.
func ParseColumn(shorthand string) (*Column, error) {
	parts := strings.Split(shorthand, "/")
	col := &Column{Type: parts[0]}
	if _, ok := TypeOf(col.Type); !ok {
		return nil, ErrBadRequest.New("unknown column type " + parts[0])
	}
	if len(parts) > 2 {
		return nil, ErrBadRequest.New("malformed column shorthand " + shorthand)
	}
	if len(parts) == 2 {
		length, err := strconv.Atoi(parts[1])
		if err != nil || length <= 0 {
			return nil, ErrBadRequest.New("invalid length in column shorthand " + shorthand)
		}
		col.Length = length
	}
	return col, nil
}

// Index describes an index. Declared indexes always target a single
// primitive Column; the preparer synthesizes composite indexes (Columns set,
// Column empty) for association tables.
type Index struct {
	Column  string
	Columns []string
	Type    string // "", "unique", "fulltext" or "spatial"
	Length  int
}

// Table is a declared table after the preparer has expanded all shorthands.
type Table struct {
	Name    string
	Columns map[string]*Column // primitive fields
	Objects map[string]string  // object reference fields -> target table
	Arrays  map[string]string  // array reference fields -> target table
	Indexes []*Index
}

// IsPrimitive reports whether field is a primitive column of t.
func (t *Table) IsPrimitive(field string) bool {
	_, ok := t.Columns[field]
	return ok
}

// IsObject reports whether field is an object reference of t.
func (t *Table) IsObject(field string) bool {
	_, ok := t.Objects[field]
	return ok
}

// IsArray reports whether field is an array reference of t.
func (t *Table) IsArray(field string) bool {
	_, ok := t.Arrays[field]
	return ok
}

// HasField reports whether field is declared on t in any form.
func (t *Table) HasField(field string) bool {
	return t.IsPrimitive(field) || t.IsObject(field) || t.IsArray(field)
}

// PrimitiveNames returns the sorted names of the primitive columns of t.
func (t *Table) PrimitiveNames() []string {
	names := make([]string, 0, len(t.Columns))
	for name := range t.Columns {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Tables is the post-processed declared schema, keyed by table name.
type Tables map[string]*Table

// AssociationTable returns the name of the physical table synthesized for the
// array field of the given owner table.
func AssociationTable(field, owner string) string {
	return field + owner
}

// AssociationColumns returns the owner-side and field-side column names of an
// association table.
func AssociationColumns(field, owner string) (ownerCol, fieldCol string) {
	return lowerFirst(owner) + "Id", field + "Id"
}

// ObjectColumn returns the physical foreign-key column name of an object
// reference field.
func ObjectColumn(field string) string {
	return field + "Id"
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToLower(r[0])
	return string(r)
}
