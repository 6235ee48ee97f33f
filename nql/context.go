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
	"context"

	opentracing "github.com/opentracing/opentracing-go"
	uuid "github.com/satori/go.uuid"
	"github.com/sirupsen/logrus"
)

// QueryOptions configures an in-transaction sub-query issued by a rule or a
// plugin. Admin substitutes the private key for the requester's authId for
// that sub-call only; ReadOnly forbids mutating instructions for it.
type QueryOptions struct {
	Admin    bool
	ReadOnly bool
}

// QueryFunc is the helper exposed to rules and plugins. It runs a request
// inside the already open transaction, bypassing the re-entrancy latch.
type QueryFunc func(req Request, opts QueryOptions) (Result, error)

// Context carries the state of one request through the resolver pipeline:
// the requester's identity, the per-transaction cache, the in-transaction
// query helper and the ambient logger and tracer.
type Context struct {
	context.Context

	// AuthID identifies the requester; equal to the private key for admin
	// requests.
	AuthID interface{}
	// Local is scratch state shared between plugin callbacks of one request.
	Local map[string]interface{}
	// Cache is the per-transaction row cache.
	Cache *Cache
	// Query runs a nested request inside the current transaction.
	Query QueryFunc

	admin    bool
	readOnly bool
	id       uuid.UUID
	logger   *logrus.Entry
	tracer   opentracing.Tracer
}

// ContextOption configures a Context.
type ContextOption func(*Context)

// WithAuthID sets the requester identity; admin marks it as the private key.
func WithAuthID(authID interface{}, admin bool) ContextOption {
	return func(c *Context) {
		c.AuthID = authID
		c.admin = admin
	}
}

// WithReadOnly forbids mutating instructions for this context.
func WithReadOnly(readOnly bool) ContextOption {
	return func(c *Context) { c.readOnly = readOnly }
}

// WithLogger sets the logger entry used by the pipeline.
func WithLogger(l *logrus.Entry) ContextOption {
	return func(c *Context) { c.logger = l }
}

// WithTracer sets the opentracing tracer used for pipeline spans.
func WithTracer(t opentracing.Tracer) ContextOption {
	return func(c *Context) { c.tracer = t }
}

// WithCache sets the per-transaction cache.
func WithCache(cache *Cache) ContextOption {
	return func(c *Context) { c.Cache = cache }
}

// WithQuery sets the in-transaction query helper.
func WithQuery(q QueryFunc) ContextOption {
	return func(c *Context) { c.Query = q }
}

// NewContext creates a request context. Unset aspects default to an empty
// cache, a noop tracer and the standard logger.
func NewContext(ctx context.Context, opts ...ContextOption) *Context {
	c := &Context{
		Context: ctx,
		Local:   make(map[string]interface{}),
		id:      uuid.NewV4(),
		tracer:  opentracing.NoopTracer{},
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.Cache == nil {
		c.Cache = NewCache()
	}
	if c.logger == nil {
		c.logger = logrus.WithField("request", c.id.String())
	}
	return c
}

// NewEmptyContext returns a default context with default values.
func NewEmptyContext() *Context { return NewContext(context.TODO()) }

// ID returns the unique id of the request.
func (c *Context) ID() uuid.UUID { return c.id }

// IsAdmin reports whether the requester authenticated with the private key.
func (c *Context) IsAdmin() bool { return c.admin }

// ReadOnly reports whether mutating instructions are forbidden.
func (c *Context) ReadOnly() bool { return c.readOnly }

// Logger returns the logger entry of this request.
func (c *Context) Logger() *logrus.Entry { return c.logger }

// Span creates a tracing span as a child of the current one, returning the
// span and the context to pass to children of it.
func (c *Context) Span(opName string, opts ...opentracing.StartSpanOption) (opentracing.Span, *Context) {
	parentSpan := opentracing.SpanFromContext(c.Context)
	if parentSpan != nil {
		opts = append(opts, opentracing.ChildOf(parentSpan.Context()))
	}
	span := c.tracer.StartSpan(opName, opts...)
	ctx := opentracing.ContextWithSpan(c.Context, span)

	return span, c.WithContext(ctx)
}

// WithContext returns a copy of this context with the given underlying
// context.Context.
func (c *Context) WithContext(ctx context.Context) *Context {
	nc := *c
	nc.Context = ctx
	return &nc
}

// Derive returns a copy of this context with the given options applied,
// used by the query helper for admin or read-only sub-calls.
func (c *Context) Derive(opts ...ContextOption) *Context {
	nc := *c
	for _, opt := range opts {
		opt(&nc)
	}
	return &nc
}
