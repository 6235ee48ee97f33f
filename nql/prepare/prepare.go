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

// Package prepare lowers a declarative table description into the physical
// model the drivers consume: foreign-key columns for object references,
// association tables for array references, and normalized indexes.
package prepare

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/dolthub/nestql/nql"
)

// TableDef is a raw declared table: a mapping from field name to a column
// shorthand, a column descriptor, the name of another declared table (object
// reference) or a single-element list naming one (array reference). The
// declaration keys index and notNull are reserved.
type TableDef map[string]interface{}

// SchemaDef is the raw declared schema, keyed by table name.
type SchemaDef map[string]TableDef

// Prepared is the output of Prepare: the post-processed declared tables, the
// physical model and the foreign keys to install after all tables exist.
type Prepared struct {
	Tables      nql.Tables
	Model       nql.Model
	ForeignKeys map[string]map[string]string
}

// Prepare validates the declared schema and lowers it into the physical
// model. Cyclic and self-referencing schemas are supported: tables are
// materialized first and foreign keys are emitted in a second pass.
func Prepare(def SchemaDef) (*Prepared, error) {
	p := &Prepared{
		Tables:      nql.Tables{},
		Model:       nql.Model{},
		ForeignKeys: map[string]map[string]string{},
	}

	names := make([]string, 0, len(def))
	for name := range def {
		names = append(names, name)
	}
	sort.Strings(names)

	// First pass: expand every declared table into its primitive, object and
	// array fields.
	for _, name := range names {
		table, err := prepareTable(def, name, def[name])
		if err != nil {
			return nil, err
		}
		p.Tables[name] = table
	}

	// Second pass: physical tables, association tables and foreign keys.
	for _, name := range names {
		if err := p.lower(p.Tables[name]); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func prepareTable(def SchemaDef, name string, raw TableDef) (*nql.Table, error) {
	if _, reserved := map[string]struct{}{"index": {}, "notNull": {}, nql.TableNameKey: {}}[name]; reserved {
		return nil, nql.ErrBadRequest.New("table name " + name + " is reserved")
	}

	table := &nql.Table{
		Name:    name,
		Columns: map[string]*nql.Column{},
		Objects: map[string]string{},
		Arrays:  map[string]string{},
	}

	fields := make([]string, 0, len(raw))
	for field := range raw {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	for _, field := range fields {
		value := raw[field]
		switch field {
		case "index", "notNull", nql.TableNameKey:
			continue
		}
		if nql.IsReservedField(field) {
			return nil, nql.ErrBadRequest.New(fmt.Sprintf(
				"field %s of table %s is a reserved name", field, name))
		}
		if _, isTable := def[field]; isTable {
			return nil, nql.ErrBadRequest.New(fmt.Sprintf(
				"field %s of table %s has the same name as a declared table", field, name))
		}

		column, target, isArray, err := prepareField(def, name, field, value)
		if err != nil {
			return nil, err
		}
		switch {
		case column != nil:
			table.Columns[field] = column
		case isArray:
			table.Arrays[field] = target
		default:
			table.Objects[field] = target
		}
	}

	if err := applyNotNull(table, raw["notNull"]); err != nil {
		return nil, err
	}

	indexes, err := prepareIndexes(table, raw["index"])
	if err != nil {
		return nil, err
	}
	table.Indexes = indexes

	for field, col := range table.Columns {
		if col.NotNull && col.HasDefault && col.Default == nil {
			return nil, nql.ErrBadRequest.New(fmt.Sprintf(
				"column %s of table %s is notNull with a null default", field, name))
		}
	}
	return table, nil
}

// prepareField expands one declared field. It returns a column for
// primitives, or the target table name for references.
func prepareField(def SchemaDef, tableName, field string, value interface{}) (*nql.Column, string, bool, error) {
	switch v := value.(type) {
	case string:
		if _, isTable := def[v]; isTable {
			return nil, v, false, nil
		}
		col, err := nql.ParseColumn(v)
		if err != nil {
			return nil, "", false, nql.ErrBadRequest.New(fmt.Sprintf(
				"field %s of table %s: %s", field, tableName, err))
		}
		return col, "", false, nil
	case *nql.Column:
		c := *v
		if _, ok := nql.TypeOf(c.Type); !ok {
			return nil, "", false, nql.ErrBadRequest.New(fmt.Sprintf(
				"field %s of table %s has unknown type %s", field, tableName, c.Type))
		}
		return &c, "", false, nil
	case []interface{}:
		if len(v) != 1 {
			return nil, "", false, nql.ErrBadRequest.New(fmt.Sprintf(
				"field %s of table %s must reference exactly one table", field, tableName))
		}
		target, ok := v[0].(string)
		if !ok {
			return nil, "", false, nql.ErrBadRequest.New(fmt.Sprintf(
				"field %s of table %s must reference a table by name", field, tableName))
		}
		if _, isTable := def[target]; !isTable {
			return nil, "", false, nql.ErrBadRequest.New(fmt.Sprintf(
				"field %s of table %s references undeclared table %s", field, tableName, target))
		}
		return nil, target, true, nil
	case []string:
		if len(v) != 1 {
			return nil, "", false, nql.ErrBadRequest.New(fmt.Sprintf(
				"field %s of table %s must reference exactly one table", field, tableName))
		}
		if _, isTable := def[v[0]]; !isTable {
			return nil, "", false, nql.ErrBadRequest.New(fmt.Sprintf(
				"field %s of table %s references undeclared table %s", field, tableName, v[0]))
		}
		return nil, v[0], true, nil
	case map[string]interface{}:
		col, err := columnFromMap(v)
		if err != nil {
			return nil, "", false, nql.ErrBadRequest.New(fmt.Sprintf(
				"field %s of table %s: %s", field, tableName, err))
		}
		return col, "", false, nil
	case map[interface{}]interface{}:
		col, err := columnFromMap(stringKeys(v))
		if err != nil {
			return nil, "", false, nql.ErrBadRequest.New(fmt.Sprintf(
				"field %s of table %s: %s", field, tableName, err))
		}
		return col, "", false, nil
	default:
		return nil, "", false, nql.ErrBadRequest.New(fmt.Sprintf(
			"field %s of table %s has an unsupported declaration %v", field, tableName, value))
	}
}

func columnFromMap(m map[string]interface{}) (*nql.Column, error) {
	col := &nql.Column{}
	for key, v := range m {
		switch key {
		case "type":
			s, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("type must be a string, got %v", v)
			}
			parsed, err := nql.ParseColumn(s)
			if err != nil {
				return nil, err
			}
			col.Type = parsed.Type
			if parsed.Length > 0 {
				col.Length = parsed.Length
			}
		case "length":
			length, err := toInt(v)
			if err != nil {
				return nil, fmt.Errorf("invalid length %v", v)
			}
			col.Length = length
		case "unsigned":
			col.Unsigned = v == true
		case "notNull":
			col.NotNull = v == true
		case "defaultValue":
			col.Default = v
			col.HasDefault = true
		case "autoIncrement":
			col.AutoIncrement = v == true
		default:
			return nil, fmt.Errorf("unknown column property %s", key)
		}
	}
	if col.Type == "" {
		return nil, fmt.Errorf("missing column type")
	}
	return col, nil
}

func applyNotNull(table *nql.Table, raw interface{}) error {
	if raw == nil {
		return nil
	}
	list, ok := toStringList(raw)
	if !ok {
		return nql.ErrBadRequest.New("notNull of table " + table.Name + " must be a list of fields")
	}
	for _, field := range list {
		col, ok := table.Columns[field]
		if !ok {
			if table.IsObject(field) || table.IsArray(field) {
				// References are enforced by foreign keys, not by notNull.
				continue
			}
			return nql.ErrBadRequest.New(fmt.Sprintf(
				"notNull of table %s targets unknown field %s", table.Name, field))
		}
		if col.HasDefault && col.Default == nil {
			return nql.ErrBadRequest.New(fmt.Sprintf(
				"column %s of table %s is notNull with a null default", field, table.Name))
		}
		col.NotNull = true
	}
	return nil
}

// prepareIndexes normalizes the index declarations. Shorthand entries like
// "email/unique/8" are disambiguated token by token: a numeric token is the
// length, one of unique|fulltext|spatial the type, anything else must match
// a primitive column.
func prepareIndexes(table *nql.Table, raw interface{}) ([]*nql.Index, error) {
	if raw == nil {
		return nil, nil
	}
	entries, ok := raw.([]interface{})
	if !ok {
		if single, oks := raw.(string); oks {
			entries = []interface{}{single}
		} else {
			return nil, nql.ErrBadRequest.New("index of table " + table.Name + " must be a list")
		}
	}

	var indexes []*nql.Index
	for _, entry := range entries {
		var index *nql.Index
		var err error
		switch e := entry.(type) {
		case string:
			index, err = parseIndexShorthand(table, e)
		case map[string]interface{}:
			index, err = indexFromMap(table, e)
		case map[interface{}]interface{}:
			index, err = indexFromMap(table, stringKeys(e))
		default:
			err = nql.ErrBadRequest.New(fmt.Sprintf(
				"unsupported index declaration %v in table %s", entry, table.Name))
		}
		if err != nil {
			return nil, err
		}
		if err := checkIndex(table, index); err != nil {
			return nil, err
		}
		indexes = append(indexes, index)
	}
	return indexes, nil
}

func parseIndexShorthand(table *nql.Table, shorthand string) (*nql.Index, error) {
	index := &nql.Index{}
	for _, token := range strings.Split(shorthand, "/") {
		switch {
		case isNumeric(token):
			if index.Length != 0 {
				return nil, nql.ErrBadRequest.New(fmt.Sprintf(
					"index %s of table %s declares two lengths", shorthand, table.Name))
			}
			index.Length, _ = strconv.Atoi(token)
		case token == "unique" || token == "fulltext" || token == "spatial":
			if index.Type != "" {
				return nil, nql.ErrBadRequest.New(fmt.Sprintf(
					"index %s of table %s declares two types", shorthand, table.Name))
			}
			index.Type = token
		default:
			if index.Column != "" {
				return nil, nql.ErrBadRequest.New(fmt.Sprintf(
					"index %s of table %s declares two columns", shorthand, table.Name))
			}
			index.Column = token
		}
	}
	if index.Column == "" {
		return nil, nql.ErrBadRequest.New(fmt.Sprintf(
			"index %s of table %s names no column", shorthand, table.Name))
	}
	return index, nil
}

func indexFromMap(table *nql.Table, m map[string]interface{}) (*nql.Index, error) {
	index := &nql.Index{}
	for key, v := range m {
		switch key {
		case "column":
			s, ok := v.(string)
			if !ok {
				return nil, nql.ErrBadRequest.New(fmt.Sprintf(
					"index column of table %s must be a string", table.Name))
			}
			index.Column = s
		case "type":
			s, ok := v.(string)
			if !ok || (s != "unique" && s != "fulltext" && s != "spatial") {
				return nil, nql.ErrBadRequest.New(fmt.Sprintf(
					"unknown index type %v in table %s", v, table.Name))
			}
			index.Type = s
		case "length":
			length, err := toInt(v)
			if err != nil {
				return nil, nql.ErrBadRequest.New(fmt.Sprintf(
					"invalid index length %v in table %s", v, table.Name))
			}
			index.Length = length
		default:
			return nil, nql.ErrBadRequest.New(fmt.Sprintf(
				"unknown index property %s in table %s", key, table.Name))
		}
	}
	if index.Column == "" {
		return nil, nql.ErrBadRequest.New("index of table " + table.Name + " names no column")
	}
	return index, nil
}

func checkIndex(table *nql.Table, index *nql.Index) error {
	if table.IsObject(index.Column) || table.IsArray(index.Column) {
		return nql.ErrBadRequest.New(fmt.Sprintf(
			"index on %s of table %s targets a reference field", index.Column, table.Name))
	}
	col, ok := table.Columns[index.Column]
	if !ok {
		return nql.ErrBadRequest.New(fmt.Sprintf(
			"index on %s of table %s targets an unknown column", index.Column, table.Name))
	}
	if index.Length > 0 && col.Length > 0 && index.Length > col.Length {
		return nql.ErrBadRequest.New(fmt.Sprintf(
			"index length %d exceeds the length of column %s in table %s",
			index.Length, index.Column, table.Name))
	}
	return nil
}

// lower emits the physical table of a declared table plus one association
// table per array field.
func (p *Prepared) lower(table *nql.Table) error {
	physical := &nql.PhysicalTable{
		Name:        table.Name,
		ForeignKeys: map[string]string{},
		Indexes:     table.Indexes,
	}
	physical.Columns = append(physical.Columns, reservedIDColumn())

	for _, field := range table.PrimitiveNames() {
		physical.Columns = append(physical.Columns, &nql.PhysicalColumn{
			Name:   field,
			Column: table.Columns[field],
		})
	}

	objects := make([]string, 0, len(table.Objects))
	for field := range table.Objects {
		objects = append(objects, field)
	}
	sort.Strings(objects)
	for _, field := range objects {
		column := nql.ObjectColumn(field)
		physical.Columns = append(physical.Columns, &nql.PhysicalColumn{
			Name:   column,
			Column: &nql.Column{Type: "integer", Unsigned: true},
		})
		physical.ForeignKeys[column] = table.Objects[field]
	}
	p.Model[table.Name] = physical
	if len(physical.ForeignKeys) > 0 {
		p.ForeignKeys[table.Name] = physical.ForeignKeys
	}

	arrays := make([]string, 0, len(table.Arrays))
	for field := range table.Arrays {
		arrays = append(arrays, field)
	}
	sort.Strings(arrays)
	for _, field := range arrays {
		if err := p.lowerAssociation(table, field); err != nil {
			return err
		}
	}
	return nil
}

// lowerAssociation synthesizes the association table of one array field:
// two cascading foreign keys and a unique index on the pair.
func (p *Prepared) lowerAssociation(table *nql.Table, field string) error {
	name := nql.AssociationTable(field, table.Name)
	if _, exists := p.Model[name]; exists {
		return nql.ErrBadRequest.New("association table " + name + " collides with another table")
	}
	ownerCol, fieldCol := nql.AssociationColumns(field, table.Name)

	physical := &nql.PhysicalTable{
		Name:        name,
		Association: true,
		Columns: []*nql.PhysicalColumn{
			{Name: ownerCol, Column: &nql.Column{Type: "integer", Unsigned: true, NotNull: true}},
			{Name: fieldCol, Column: &nql.Column{Type: "integer", Unsigned: true, NotNull: true}},
		},
		Indexes: []*nql.Index{
			{Columns: []string{fieldCol, ownerCol}, Type: "unique"},
		},
		ForeignKeys: map[string]string{
			ownerCol: table.Name,
			fieldCol: table.Arrays[field],
		},
	}
	p.Model[name] = physical
	p.ForeignKeys[name] = physical.ForeignKeys
	return nil
}

func reservedIDColumn() *nql.PhysicalColumn {
	return &nql.PhysicalColumn{
		Name: nql.ReservedID,
		Column: &nql.Column{
			Type:          "integer",
			Unsigned:      true,
			NotNull:       true,
			AutoIncrement: true,
		},
	}
}

// CheckRules verifies that every declared table has rules and that each rule
// is valid against the declared tables. Fields without explicit rules fall
// back to the table-level rules at evaluation time.
func CheckRules(tables nql.Tables, rules nql.Rules) error {
	for name, table := range tables {
		tableRules, ok := rules[name]
		if !ok || tableRules == nil {
			return nql.ErrBadRequest.New("table " + name + " has no access rules")
		}
		for _, r := range []nql.Rule{tableRules.Read, tableRules.Write, tableRules.Create, tableRules.Delete} {
			if r == nil {
				continue
			}
			if err := r.Check(tables, name); err != nil {
				return err
			}
		}
		for field, columnRules := range tableRules.Columns {
			if field != nql.ReservedID && !table.HasField(field) {
				return nql.ErrBadRequest.New(fmt.Sprintf(
					"rules of table %s target unknown field %s", name, field))
			}
			for _, r := range []nql.Rule{columnRules.Read, columnRules.Write, columnRules.Add, columnRules.Remove} {
				if r == nil {
					continue
				}
				if err := r.Check(tables, name); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	_, err := strconv.Atoi(s)
	return err == nil
}

func toInt(v interface{}) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	case string:
		return strconv.Atoi(n)
	default:
		return 0, fmt.Errorf("not an integer: %v", v)
	}
}

func toStringList(v interface{}) ([]string, bool) {
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
	default:
		return nil, false
	}
}

func stringKeys(m map[interface{}]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[fmt.Sprint(k)] = v
	}
	return out
}
