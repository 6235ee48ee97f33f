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

// PhysicalColumn is a named column of a physical table.
type PhysicalColumn struct {
	Name   string
	Column *Column
}

// PhysicalTable is a table as the driver sees it: declared primitives plus
// the injected reservedId, the fieldId columns of object references and, for
// association tables, the two linking columns.
type PhysicalTable struct {
	Name        string
	Columns     []*PhysicalColumn
	Indexes     []*Index
	ForeignKeys map[string]string // column name -> referenced table
	Association bool              // synthesized for an array field
}

// Column returns the physical column with the given name, or nil.
func (t *PhysicalTable) Column(name string) *PhysicalColumn {
	for _, c := range t.Columns {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// ColumnNames returns the physical column names in declaration order.
func (t *PhysicalTable) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// Model is the physical model of the whole schema, keyed by physical table
// name. It includes one entry per declared table and one per association.
type Model map[string]*PhysicalTable
