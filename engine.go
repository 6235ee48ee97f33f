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

// Package nestql is a declarative data-access engine: one nested request
// describes what to read, create, update or delete across a relational
// schema, and the engine resolves it into a transactional sequence of driver
// operations under row- and column-level access rules.
package nestql

import (
	"context"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/dolthub/nestql/nql"
	"github.com/dolthub/nestql/nql/prepare"
	"github.com/dolthub/nestql/nql/resolver"
)

// Config assembles an Engine: the declared tables, their access rules, the
// plugins and the driver the requests resolve against. PrivateKey is the
// shared admin secret; requests authenticated with it bypass validation and
// access control.
type Config struct {
	Tables     prepare.SchemaDef
	Rules      nql.Rules
	Plugins    []*nql.Plugin
	Driver     nql.Driver
	PrivateKey interface{}
}

// Engine resolves nested requests. The prepared schema, rules and plugins
// are immutable after New; each request runs in its own transaction.
type Engine struct {
	Tables   nql.Tables
	Model    nql.Model
	Resolver *resolver.Resolver

	driver      nql.Driver
	foreignKeys map[string]map[string]string
	logger      *logrus.Entry
}

// New prepares the declared schema, checks the rules and the plugin
// prerequisites and wires the resolver. Any schema or rule violation fails
// here, before a transaction is ever opened.
func New(cfg Config) (*Engine, error) {
	prepared, err := prepare.Prepare(cfg.Tables)
	if err != nil {
		return nil, err
	}
	if err := prepare.CheckRules(prepared.Tables, cfg.Rules); err != nil {
		return nil, err
	}
	for _, plugin := range cfg.Plugins {
		if plugin.PreRequisite == nil {
			continue
		}
		if err := plugin.PreRequisite(prepared.Tables); err != nil {
			return nil, err
		}
	}

	return &Engine{
		Tables: prepared.Tables,
		Model:  prepared.Model,
		Resolver: resolver.New(
			prepared.Tables, prepared.Model, cfg.Rules,
			cfg.Driver, cfg.Plugins, cfg.PrivateKey,
		),
		driver:      cfg.Driver,
		foreignKeys: prepared.ForeignKeys,
		logger:      logrus.WithField("component", "nestql"),
	}, nil
}

// CreateTables creates or verifies every physical table of the model, then
// installs the foreign keys in a second pass so cyclic and self-referencing
// schemas resolve.
func (e *Engine) CreateTables(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for name, table := range e.Model {
		name, table := name, table
		g.Go(func() error {
			e.logger.WithField("table", name).Info("creating table")
			if err := e.driver.CreateTable(gctx, nql.CreateTableQuery{
				Table: name,
				Data:  table.Columns,
				Index: table.Indexes,
			}); err != nil {
				return err
			}
			return e.driver.ProcessTable(gctx, nql.ProcessTableQuery{
				Table: name,
				Data:  table.Columns,
			})
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return e.driver.CreateForeignKeys(ctx, e.foreignKeys)
}

// Resolve runs one top-level request as a single transaction and returns the
// per-table results.
func (e *Engine) Resolve(ctx context.Context, authID interface{}, req nql.Request) (nql.Result, error) {
	return e.Resolver.Resolve(ctx, authID, req)
}

// Destroy closes the driver and its connections.
func (e *Engine) Destroy(ctx context.Context) error {
	return e.driver.Destroy(ctx)
}
