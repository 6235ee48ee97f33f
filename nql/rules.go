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

import "fmt"

// RuleScope is the evaluation context handed to a rule predicate: the
// requester's context, the request being resolved, the database object the
// rule is tested against and, in request mode, the request instead of the
// object.
type RuleScope struct {
	Ctx       *Context
	Tables    Tables
	TableName string
	// Request is the sub-request under access control.
	Request Request
	// Object is the resolved row the rule is evaluated against. Nil in
	// request mode.
	Object Row
	// RequestFlag makes path rules walk the request instead of the object.
	RequestFlag bool
}

// Rule is an access predicate. Check runs once at preparation time against
// the declared tables; Eval runs mid-pipeline against a scope and either
// succeeds (nil) or fails with the reason access is denied.
type Rule interface {
	fmt.Stringer
	Check(tables Tables, tableName string) error
	Eval(scope *RuleScope) error
}

// ColumnRules attaches access predicates to a single field. Read and Write
// apply to primitive and object columns, Add and Remove to array columns.
type ColumnRules struct {
	Read   Rule
	Write  Rule
	Add    Rule
	Remove Rule
}

// TableRules attaches access predicates to a table and its fields. Every
// declared table must have rules; the implicit rule for reservedId denies
// everything but admin.
type TableRules struct {
	Read    Rule
	Write   Rule
	Create  Rule
	Delete  Rule
	Columns map[string]*ColumnRules
}

// Rules maps each declared table to its access rules.
type Rules map[string]*TableRules
