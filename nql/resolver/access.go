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

// phaseAccessControl enforces the non-delete access rules and projects the
// final result rows. Reading strips denied fields silently; write, create,
// add and remove denials abort with UNAUTHORIZED. Deletions were checked
// before their mutation and keep their rows as returned.
func phaseAccessControl(ctx *nql.Context, s *scope) error {
	if s.del {
		for i, row := range s.results {
			s.results[i] = s.project(row)
		}
		return nil
	}

	if ctx.IsAdmin() {
		for i, row := range s.results {
			s.results[i] = s.project(row)
		}
		return nil
	}

	if s.create {
		for _, row := range s.results {
			if err := s.evalRule(ctx, tableRule(s.rules, "create"), row, false); err != nil {
				return nql.ErrUnauthorized.New(ctx.AuthID, "create", s.table.Name)
			}
		}
	}

	if len(s.set) > 0 {
		for _, row := range s.results {
			if err := s.evalRule(ctx, tableRule(s.rules, "write"), row, false); err != nil {
				return nql.ErrUnauthorized.New(ctx.AuthID, "write", s.table.Name)
			}
			for field := range s.set {
				if err := s.evalRule(ctx, s.columnRule(field, "write"), row, false); err != nil {
					return nql.ErrUnauthorized.New(ctx.AuthID, "write "+field, s.table.Name)
				}
			}
		}
	}

	for _, field := range s.class.Arrays {
		sub, ok := asRequest(s.req[field])
		if !ok {
			continue
		}
		for _, row := range s.results {
			if sub["add"] != nil {
				if err := s.evalRule(ctx, s.columnRule(field, "add"), row, false); err != nil {
					return nql.ErrUnauthorized.New(ctx.AuthID, "add to "+field, s.table.Name)
				}
			}
			if sub["remove"] != nil {
				if err := s.evalRule(ctx, s.columnRule(field, "remove"), row, false); err != nil {
					return nql.ErrUnauthorized.New(ctx.AuthID, "remove from "+field, s.table.Name)
				}
			}
		}
	}

	kept := s.results[:0]
	for _, row := range s.results {
		projected, visible := s.readControl(ctx, row)
		if visible {
			kept = append(kept, projected)
		}
	}
	s.results = kept
	return nil
}

// readControl applies the read rules to one row: the table-level rule first,
// then per field its own rule, falling back to the table-level outcome.
// Denied fields are stripped silently; a row stripped bare is dropped. The
// reservedId echoed back because the request pinned it is always kept.
func (s *scope) readControl(ctx *nql.Context, row nql.Row) (nql.Row, bool) {
	tableErr := s.evalRule(ctx, tableRule(s.rules, "read"), row, false)
	projected := s.project(row)

	visible := nql.Row{}
	fields := 0
	for field, value := range projected {
		switch field {
		case "created", "deleted", "edited":
			visible[field] = value
			continue
		case nql.ReservedID:
			if s.fieldReadable(ctx, nql.ReservedID, row, tableErr) == nil {
				visible[field] = value
				fields++
			} else if _, pinned := s.req[nql.ReservedID]; pinned && tableErr == nil {
				// Echo of an id the request explicitly provided.
				visible[field] = value
				fields++
			}
			continue
		}
		if s.fieldReadable(ctx, field, row, tableErr) == nil {
			visible[field] = value
			fields++
		}
	}
	return visible, fields > 0
}

// fieldReadable evaluates the read rule of one field, falling back to the
// table-level outcome when the field has no rule of its own. reservedId
// without an explicit rule is denied to everyone but the private key.
func (s *scope) fieldReadable(ctx *nql.Context, field string, row nql.Row, tableErr error) error {
	if s.rules != nil {
		if columnRules, ok := s.rules.Columns[field]; ok && columnRules != nil && columnRules.Read != nil {
			return s.evalRule(ctx, columnRules.Read, row, false)
		}
	}
	if field == nql.ReservedID {
		return fmt.Errorf("reservedId is reserved to the private key")
	}
	return tableErr
}

// project builds the response row: the requested primitives, the resolved
// reference fields, the reservedId and the lifecycle flags. Physical fieldId
// columns stay internal.
func (s *scope) project(row nql.Row) nql.Row {
	projected := nql.Row{}
	if id, ok := row[nql.ReservedID]; ok {
		projected[nql.ReservedID] = id
	}
	for _, field := range s.class.Search {
		if value, ok := row[field]; ok {
			projected[field] = value
		}
	}
	if s.create {
		// A creation echoes every value it was given.
		for _, field := range s.class.Primitives {
			if value, ok := row[field]; ok {
				projected[field] = value
			}
		}
	}
	for _, field := range s.class.Objects {
		if value, ok := row[field]; ok {
			projected[field] = value
		}
	}
	for _, field := range s.projected {
		if value, ok := row[field]; ok {
			projected[field] = value
		}
	}
	for _, field := range s.class.Arrays {
		if value, ok := row[field]; ok {
			projected[field] = value
		}
	}
	for field := range s.set {
		if value, ok := row[field]; ok {
			projected[field] = value
		}
	}
	for _, flag := range []string{"created", "deleted", "edited"} {
		if value, ok := row[flag]; ok {
			projected[flag] = value
		}
	}
	return projected
}

// evalRule evaluates one access rule against a result row, or against the
// request itself when requestMode is set. A missing rule denies everyone but
// the private key.
func (s *scope) evalRule(ctx *nql.Context, rule nql.Rule, object nql.Row, requestMode bool) error {
	if ctx.IsAdmin() {
		return nil
	}
	if rule == nil {
		return fmt.Errorf("no rule grants this access on table %s", s.table.Name)
	}
	return rule.Eval(&nql.RuleScope{
		Ctx:         ctx,
		Tables:      s.r.Tables,
		TableName:   s.table.Name,
		Request:     s.req,
		Object:      object,
		RequestFlag: requestMode,
	})
}

// columnRule returns the per-field rule for one access kind, falling back to
// the table-level write rule for changes when the field has none.
func (s *scope) columnRule(field, kind string) nql.Rule {
	if s.rules != nil {
		if columnRules, ok := s.rules.Columns[field]; ok && columnRules != nil {
			switch kind {
			case "write":
				if columnRules.Write != nil {
					return columnRules.Write
				}
			case "add":
				if columnRules.Add != nil {
					return columnRules.Add
				}
			case "remove":
				if columnRules.Remove != nil {
					return columnRules.Remove
				}
			}
		}
	}
	return tableRule(s.rules, "write")
}

func tableRule(rules *nql.TableRules, kind string) nql.Rule {
	if rules == nil {
		return nil
	}
	switch kind {
	case "read":
		return rules.Read
	case "write":
		return rules.Write
	case "create":
		return rules.Create
	case "delete":
		return rules.Delete
	}
	return nil
}
