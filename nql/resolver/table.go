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
	"github.com/sirupsen/logrus"

	"github.com/dolthub/nestql/nql"
)

// scope is the shared mutable state one table-scoped sub-request carries
// through the pipeline phases.
type scope struct {
	r     *Resolver
	table *nql.Table
	rules *nql.TableRules

	// req is the residual request after classification; it always carries
	// tableName and, for nested sub-requests, parent.
	req    nql.Request
	parent nql.Request
	class  *nql.Classified

	create bool
	del    bool
	// set holds the set instruction, nil when absent.
	set nql.Request

	// objects maps each constrained object field to the single row its
	// sub-request resolved to.
	objects map[string]nql.Row
	// projected lists the object fields mentioned only for projection; they
	// resolve per result row from the row's fieldId.
	projected []string

	results []nql.Row

	// done short-circuits the remaining phases, e.g. the read-only gate.
	done bool
}

// phase is one step of the per-table pipeline. Phases run in strict order
// over the shared scope.
type phase struct {
	name  string
	apply func(ctx *nql.Context, s *scope) error
}

// phases is the per-table pipeline: format, plugin onRequest, classify,
// validate, read-only gate, object resolution, get or create, array children,
// plugin onProcessing, delete, update, association changes, plugin onResult,
// access control. Built in init because the phase functions recurse into
// resolveTable for nested sub-requests.
var phases []phase

func init() {
	phases = []phase{
		{"format", phaseFormat},
		{"on_request", phaseOnRequest},
		{"classify", phaseClassify},
		{"validate", phaseValidate},
		{"read_only_gate", phaseReadOnlyGate},
		{"resolve_objects", phaseResolveObjects},
		{"get_or_create", phaseGetOrCreate},
		{"resolve_children", phaseResolveChildren},
		{"on_processing", phaseOnProcessing},
		{"delete", phaseDelete},
		{"update", phaseUpdate},
		{"update_associations", phaseUpdateAssociations},
		{"on_result", phaseOnResult},
		{"access_control", phaseAccessControl},
	}
}

// resolveTable runs the pipeline for one table-scoped sub-request. A
// NOT_FOUND raised mid-pipeline is recovered into an empty result unless the
// sub-request is marked required.
func (r *Resolver) resolveTable(ctx *nql.Context, tableName string, req nql.Request, parent nql.Request) ([]nql.Row, error) {
	table, ok := r.Tables[tableName]
	if !ok {
		return nil, nql.ErrBadRequest.New("unknown table " + tableName)
	}

	span, ctx := ctx.Span("resolve." + tableName)
	defer span.Finish()

	s := &scope{
		r:       r,
		table:   table,
		rules:   r.Rules[tableName],
		req:     req,
		parent:  parent,
		objects: map[string]nql.Row{},
	}

	for _, p := range phases {
		ctx.Logger().WithFields(logrus.Fields{
			"table": tableName,
			"phase": p.name,
		}).Debug("pipeline phase")

		if err := p.apply(ctx, s); err != nil {
			if nql.ErrNotFound.Is(err) && !s.req.Bool("required") {
				return []nql.Row{}, nil
			}
			return nil, err
		}
		if s.done {
			break
		}
	}
	if s.results == nil {
		s.results = []nql.Row{}
	}
	return s.results, nil
}

// phaseFormat shapes the raw sub-request: it records the table name, links
// the parent chain and forces a full projection on deletions so the removed
// rows come back whole.
func phaseFormat(ctx *nql.Context, s *scope) error {
	s.req = s.req.Copy()
	s.req[nql.TableNameKey] = s.table.Name
	if s.parent != nil {
		s.req["parent"] = s.parent
	}
	if s.req.Bool("delete") {
		s.req["get"] = "*"
	}
	return nil
}

func phaseOnRequest(ctx *nql.Context, s *scope) error {
	return s.r.firePlugins(ctx, "onRequest", func(p *nql.Plugin) map[string]nql.Hook {
		return p.OnRequest
	}, s.params())
}

// phaseClassify splits the request after the onRequest hooks had their chance
// to mutate it.
func phaseClassify(ctx *nql.Context, s *scope) error {
	class, err := nql.Classify(s.table, s.req)
	if err != nil {
		return err
	}
	s.class = class
	s.req = class.Request
	s.create = s.req.Bool("create")
	s.del = s.req.Bool("delete")

	if raw, ok := s.req["set"]; ok && raw != nil {
		m, ok := asRequest(raw)
		if !ok {
			return nql.ErrBadRequest.New("set must be an object in table " + s.table.Name)
		}
		s.set = m
	}
	return nil
}

// phaseReadOnlyGate drops mutating instructions for read-only sub-calls:
// create and delete short-circuit to an empty result, set and association
// changes are forbidden outright.
func phaseReadOnlyGate(ctx *nql.Context, s *scope) error {
	if !ctx.ReadOnly() {
		return nil
	}
	if s.create || s.del {
		s.results = []nql.Row{}
		s.done = true
		return nil
	}
	if s.set != nil {
		return nql.ErrForbidden.New("set inside a read-only query on table " + s.table.Name)
	}
	for _, field := range s.class.Arrays {
		sub, ok := asRequest(s.req[field])
		if !ok {
			continue
		}
		if sub["add"] != nil || sub["remove"] != nil {
			return nql.ErrForbidden.New("association change inside a read-only query on table " + s.table.Name)
		}
	}
	return nil
}

func phaseOnProcessing(ctx *nql.Context, s *scope) error {
	return s.r.firePlugins(ctx, "onProcessing", func(p *nql.Plugin) map[string]nql.Hook {
		return p.OnProcessing
	}, s.params())
}

func phaseOnResult(ctx *nql.Context, s *scope) error {
	return s.r.firePlugins(ctx, "onResult", func(p *nql.Plugin) map[string]nql.Hook {
		return p.OnResult
	}, s.params())
}

// params builds the plugin callback arguments for the current scope.
func (s *scope) params() *nql.HookParams {
	return &nql.HookParams{
		Table:   s.table.Name,
		Request: s.req,
		Parent:  s.parent,
		Results: s.results,
	}
}

// asRequest normalizes a single nested sub-request value.
func asRequest(v interface{}) (nql.Request, bool) {
	switch m := v.(type) {
	case nql.Request:
		return m, true
	case map[string]interface{}:
		return nql.Request(m), true
	default:
		return nil, false
	}
}
