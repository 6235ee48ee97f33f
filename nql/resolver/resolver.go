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

// Package resolver turns a nested request into a transactional sequence of
// driver operations: one transaction per top-level request, one pipeline run
// per table-scoped sub-request.
package resolver

import (
	"context"
	"sort"

	opentracing "github.com/opentracing/opentracing-go"
	"github.com/sirupsen/logrus"

	"github.com/dolthub/nestql/nql"
)

// Resolver resolves requests against one database. The prepared schema,
// rules and plugins are shared and immutable after startup; each request
// owns its transaction, cache and context.
type Resolver struct {
	Tables  nql.Tables
	Model   nql.Model
	Rules   nql.Rules
	Driver  nql.Driver
	Plugins []*nql.Plugin

	// PrivateKey is the shared admin secret substituted for authId by the
	// query helper's admin option.
	PrivateKey interface{}

	queue  *nql.Queue
	tracer opentracing.Tracer
}

// reentrantKey marks a context as belonging to an open resolution, so a rule
// or plugin calling Resolve again is rejected instead of deadlocking behind
// its own queue slot.
type reentrantKey struct{}

// New creates a Resolver over a prepared schema.
func New(tables nql.Tables, model nql.Model, rules nql.Rules, driver nql.Driver, plugins []*nql.Plugin, privateKey interface{}) *Resolver {
	return &Resolver{
		Tables:     tables,
		Model:      model,
		Rules:      rules,
		Driver:     driver,
		Plugins:    plugins,
		PrivateKey: privateKey,
		queue:      nql.NewQueue(),
		tracer:     opentracing.GlobalTracer(),
	}
}

// WithTracer replaces the tracer used for request spans.
func (r *Resolver) WithTracer(t opentracing.Tracer) *Resolver {
	r.tracer = t
	return r
}

// Resolve runs one top-level request as a single transaction. Concurrent
// top-level requests wait their turn in a per-database FIFO queue; only a
// re-entrant call from a rule or plugin inside an open resolution is
// rejected, those must use the context's query helper. On success every
// onSuccess hook runs before commit; on failure the transaction rolls back,
// then every onError hook runs, and the original error is returned.
func (r *Resolver) Resolve(ctx context.Context, authID interface{}, req nql.Request) (nql.Result, error) {
	if ctx.Value(reentrantKey{}) != nil {
		return nil, nql.ErrForbidden.New("a transaction is already open; nested queries must use the query helper")
	}

	release, err := r.queue.Enqueue(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	ctx = context.WithValue(ctx, reentrantKey{}, true)

	admin := r.PrivateKey != nil && authID == r.PrivateKey
	nctx := nql.NewContext(ctx,
		nql.WithAuthID(authID, admin),
		nql.WithTracer(r.tracer),
	)
	nctx = nctx.Derive(nql.WithQuery(r.queryFunc(nctx)))

	if err := r.Driver.StartTransaction(ctx); err != nil {
		return nil, nql.ErrDatabaseError.New(err)
	}

	span, nctx := nctx.Span("resolve")
	defer span.Finish()

	results, err := r.resolveRequest(nctx, req)
	if err == nil {
		err = r.fireSuccess(nctx, results)
	}
	if err != nil {
		if rbErr := r.Driver.Rollback(ctx); rbErr != nil {
			nctx.Logger().WithError(rbErr).Error("rollback failed")
		}
		r.fireError(nctx, err)
		return nil, err
	}

	if err := r.Driver.Commit(ctx); err != nil {
		r.fireError(nctx, err)
		return nil, nql.ErrDatabaseError.New(err)
	}
	return results, nil
}

// queryFunc builds the in-transaction query helper handed to rules and
// plugins. It bypasses the re-entrancy latch because its callers already run
// inside the open transaction.
func (r *Resolver) queryFunc(base *nql.Context) nql.QueryFunc {
	return func(req nql.Request, opts nql.QueryOptions) (nql.Result, error) {
		derived := base
		if opts.Admin {
			derived = derived.Derive(nql.WithAuthID(r.PrivateKey, true))
		}
		if opts.ReadOnly {
			derived = derived.Derive(nql.WithReadOnly(true))
		}
		derived = derived.Derive(nql.WithQuery(r.queryFunc(derived)))
		return r.resolveRequest(derived, req)
	}
}

// resolveRequest dispatches each top-level key of the request to the table
// resolver, in deterministic key order.
func (r *Resolver) resolveRequest(ctx *nql.Context, req nql.Request) (nql.Result, error) {
	tables := make([]string, 0, len(req))
	for name := range req {
		tables = append(tables, name)
	}
	sort.Strings(tables)

	results := nql.Result{}
	for _, name := range tables {
		if _, declared := r.Tables[name]; !declared {
			return nil, nql.ErrBadRequest.New("unknown table " + name)
		}
		subs, ok := nql.RequestList(req[name])
		if !ok {
			return nil, nql.ErrBadRequest.New("the request for table " + name + " must be an object or a list of objects")
		}

		rows := []nql.Row{}
		for _, sub := range subs {
			resolved, err := r.resolveTable(ctx, name, sub, nil)
			if err != nil {
				return nil, err
			}
			rows = append(rows, resolved...)
		}
		results[name] = rows
	}
	return results, nil
}

// fireSuccess runs every onSuccess hook in plugin order, before commit.
func (r *Resolver) fireSuccess(ctx *nql.Context, results nql.Result) error {
	for _, p := range r.Plugins {
		if p.OnSuccess == nil {
			continue
		}
		if err := p.OnSuccess(ctx, results, nil); err != nil {
			return err
		}
	}
	return nil
}

// fireError runs every onError hook after rollback. Hook failures are logged
// and never replace the original error.
func (r *Resolver) fireError(ctx *nql.Context, original error) {
	for _, p := range r.Plugins {
		if p.OnError == nil {
			continue
		}
		if err := p.OnError(ctx, nil, original); err != nil {
			ctx.Logger().WithFields(logrus.Fields{
				logrus.ErrorKey: err,
				"original":      original,
			}).Error("onError hook failed")
		}
	}
}

// firePlugins invokes the callbacks registered for one table at one pipeline
// point, in plugin order.
func (r *Resolver) firePlugins(ctx *nql.Context, point string, hooks func(*nql.Plugin) map[string]nql.Hook, p *nql.HookParams) error {
	for _, plugin := range r.Plugins {
		m := hooks(plugin)
		if m == nil {
			continue
		}
		hook, ok := m[p.Table]
		if !ok {
			continue
		}
		ctx.Logger().WithFields(logrus.Fields{
			"table": p.Table,
			"point": point,
		}).Debug("plugin callback")
		if err := hook(ctx, p); err != nil {
			return err
		}
	}
	return nil
}
