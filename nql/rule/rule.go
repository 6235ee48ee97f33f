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

// Package rule implements the access-rule combinators as a small AST with an
// evaluator, keeping composition allocation-free and introspectable.
package rule

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cast"
	"golang.org/x/sync/errgroup"

	"github.com/dolthub/nestql/nql"
)

// All always grants access.
func All() nql.Rule { return all{} }

type all struct{}

func (all) String() string                 { return "all" }
func (all) Check(nql.Tables, string) error { return nil }
func (all) Eval(*nql.RuleScope) error      { return nil }

// None denies access to everyone but the private key.
func None() nql.Rule { return none{} }

type none struct{}

func (none) String() string                 { return "none" }
func (none) Check(nql.Tables, string) error { return nil }
func (none) Eval(scope *nql.RuleScope) error {
	if scope.Ctx != nil && scope.Ctx.IsAdmin() {
		return nil
	}
	return fmt.Errorf("none: access reserved to the private key")
}

// And grants access when every child rule grants it, failing on the first
// denial.
func And(rules ...nql.Rule) nql.Rule { return and{rules} }

type and struct {
	rules []nql.Rule
}

func (a and) String() string { return "and(" + joinRules(a.rules) + ")" }

func (a and) Check(tables nql.Tables, tableName string) error {
	for _, r := range a.rules {
		if err := r.Check(tables, tableName); err != nil {
			return err
		}
	}
	return nil
}

func (a and) Eval(scope *nql.RuleScope) error {
	for _, r := range a.rules {
		if err := r.Eval(scope); err != nil {
			return err
		}
	}
	return nil
}

// Or grants access when any child rule grants it. Children are evaluated in
// parallel; the first success short-circuits the rest.
func Or(rules ...nql.Rule) nql.Rule { return or{rules} }

type or struct {
	rules []nql.Rule
}

func (o or) String() string { return "or(" + joinRules(o.rules) + ")" }

func (o or) Check(tables nql.Tables, tableName string) error {
	for _, r := range o.rules {
		if err := r.Check(tables, tableName); err != nil {
			return err
		}
	}
	return nil
}

// errGranted short-circuits the errgroup as soon as one child succeeds.
var errGranted = fmt.Errorf("access granted")

func (o or) Eval(scope *nql.RuleScope) error {
	if len(o.rules) == 0 {
		return fmt.Errorf("or: no rule to satisfy")
	}

	parent := context.Background()
	if scope.Ctx != nil {
		parent = scope.Ctx
	}
	g, _ := errgroup.WithContext(parent)
	denials := make([]error, len(o.rules))
	for i, r := range o.rules {
		i, r := i, r
		g.Go(func() error {
			if err := r.Eval(scope); err != nil {
				denials[i] = err
				return nil
			}
			return errGranted
		})
	}
	if err := g.Wait(); err == errGranted {
		return nil
	}

	reasons := make([]string, len(denials))
	for i, err := range denials {
		reasons[i] = err.Error()
	}
	return fmt.Errorf("or: every alternative denied access: %s", strings.Join(reasons, "; "))
}

// Not grants access exactly when the child rule denies it.
func Not(r nql.Rule) nql.Rule { return not{r} }

type not struct {
	rule nql.Rule
}

func (n not) String() string { return "not(" + n.rule.String() + ")" }

func (n not) Check(tables nql.Tables, tableName string) error {
	return n.rule.Check(tables, tableName)
}

func (n not) Eval(scope *nql.RuleScope) error {
	if err := n.rule.Eval(scope); err != nil {
		return nil
	}
	return fmt.Errorf("not: %s granted access", n.rule)
}

// Request evaluates the child rule against the incoming request instead of
// the stored object.
func Request(r nql.Rule) nql.Rule { return request{r} }

type request struct {
	rule nql.Rule
}

func (r request) String() string { return "request(" + r.rule.String() + ")" }

func (r request) Check(tables nql.Tables, tableName string) error {
	return r.rule.Check(tables, tableName)
}

func (r request) Eval(scope *nql.RuleScope) error {
	requestScope := *scope
	requestScope.RequestFlag = true
	requestScope.Object = nil
	return r.rule.Eval(&requestScope)
}

// Is grants access when the entity addressed by path is the requester, i.e.
// its reservedId equals the authId.
func Is(p string) nql.Rule { return is{parsePath(p)} }

type is struct {
	path path
}

func (i is) String() string { return "is(" + i.path.String() + ")" }

func (i is) Check(tables nql.Tables, tableName string) error {
	return i.path.check(tables, tableName)
}

func (i is) Eval(scope *nql.RuleScope) error {
	nodes, err := i.path.resolve(scope)
	if err != nil {
		return err
	}
	rows := entities(nodes)
	if len(rows) == 0 {
		return fmt.Errorf("is(%s): nothing matches the path", i.path)
	}
	for _, row := range rows {
		if sameID(row[nql.ReservedID], scope.Ctx.AuthID) {
			return nil
		}
	}
	return fmt.Errorf("is(%s): the requester is not the addressed entity", i.path)
}

// Member grants access when the requester appears in the list addressed by
// path.
func Member(p string) nql.Rule { return member{parsePath(p)} }

type member struct {
	path path
}

func (m member) String() string { return "member(" + m.path.String() + ")" }

func (m member) Check(tables nql.Tables, tableName string) error {
	return m.path.check(tables, tableName)
}

func (m member) Eval(scope *nql.RuleScope) error {
	nodes, err := m.path.resolve(scope)
	if err != nil {
		return err
	}
	for _, row := range entities(nodes) {
		if sameID(row[nql.ReservedID], scope.Ctx.AuthID) {
			return nil
		}
	}
	return fmt.Errorf("member(%s): the requester is not in the list", m.path)
}

// Range bounds a Count rule. Amount is exclusive of Min and Max.
type Range struct {
	Amount *int
	Min    *int
	Max    *int
}

// Amount is a convenience for an exact Count bound.
func Amount(n int) Range { return Range{Amount: &n} }

// Between is a convenience for a Count interval; pass a negative bound to
// leave that side open.
func Between(min, max int) Range {
	r := Range{}
	if min >= 0 {
		r.Min = &min
	}
	if max >= 0 {
		r.Max = &max
	}
	return r
}

// Count grants access when the length of the list addressed by path falls
// within the given range.
func Count(p string, bounds Range) nql.Rule { return count{parsePath(p), bounds} }

type count struct {
	path   path
	bounds Range
}

func (c count) String() string {
	switch {
	case c.bounds.Amount != nil:
		return fmt.Sprintf("count(%s, amount=%d)", c.path, *c.bounds.Amount)
	default:
		return fmt.Sprintf("count(%s, min/max)", c.path)
	}
}

func (c count) Check(tables nql.Tables, tableName string) error {
	if c.bounds.Amount != nil && (c.bounds.Min != nil || c.bounds.Max != nil) {
		return nql.ErrBadRequest.New("count: amount is exclusive of min and max")
	}
	if c.bounds.Amount == nil && c.bounds.Min == nil && c.bounds.Max == nil {
		return nql.ErrBadRequest.New("count: one of amount, min or max is required")
	}
	return c.path.check(tables, tableName)
}

func (c count) Eval(scope *nql.RuleScope) error {
	nodes, err := c.path.resolve(scope)
	if err != nil {
		return err
	}
	length := len(nodes)

	if c.bounds.Amount != nil && length != *c.bounds.Amount {
		return fmt.Errorf("count(%s): expected exactly %d elements, found %d", c.path, *c.bounds.Amount, length)
	}
	if c.bounds.Min != nil && length < *c.bounds.Min {
		return fmt.Errorf("count(%s): expected at least %d elements, found %d", c.path, *c.bounds.Min, length)
	}
	if c.bounds.Max != nil && length > *c.bounds.Max {
		return fmt.Errorf("count(%s): expected at most %d elements, found %d", c.path, *c.bounds.Max, length)
	}
	return nil
}

// IsEqual grants access when the field addressed by path equals value.
// Dates compare by timestamp.
func IsEqual(p string, value interface{}) nql.Rule { return isEqual{parsePath(p), value} }

type isEqual struct {
	path  path
	value interface{}
}

func (e isEqual) String() string { return fmt.Sprintf("isEqual(%s, %v)", e.path, e.value) }

func (e isEqual) Check(tables nql.Tables, tableName string) error {
	return e.path.check(tables, tableName)
}

func (e isEqual) Eval(scope *nql.RuleScope) error {
	nodes, err := e.path.resolve(scope)
	if err != nil {
		return err
	}
	if len(e.path.segments) == 0 {
		return fmt.Errorf("isEqual(%s): the path must address a field", e.path)
	}
	field := e.path.segments[len(e.path.segments)-1]

	for _, n := range nodes {
		var actual interface{}
		if n.row != nil {
			actual = n.row[field]
		} else if n.request != nil {
			actual = n.request[field]
		}
		if valuesEqual(actual, e.value) {
			return nil
		}
	}
	return fmt.Errorf("isEqual(%s): the field does not equal %v", e.path, e.value)
}

func joinRules(rules []nql.Rule) string {
	parts := make([]string, len(rules))
	for i, r := range rules {
		parts[i] = r.String()
	}
	return strings.Join(parts, ", ")
}

// sameID compares a reservedId with an authId, which may come in as any
// numeric or string form.
func sameID(a, b interface{}) bool {
	if a == nil || b == nil {
		return false
	}
	ai, errA := cast.ToInt64E(a)
	bi, errB := cast.ToInt64E(b)
	if errA == nil && errB == nil {
		return ai == bi
	}
	return cast.ToString(a) == cast.ToString(b)
}

// valuesEqual compares two field values, normalizing numbers and comparing
// times by timestamp.
func valuesEqual(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if ta, err := cast.ToTimeE(a); err == nil {
		if tb, err := cast.ToTimeE(b); err == nil {
			return ta.UnixNano() == tb.UnixNano()
		}
	}
	if fa, err := cast.ToFloat64E(a); err == nil {
		if fb, err := cast.ToFloat64E(b); err == nil {
			return fa == fb
		}
	}
	return cast.ToString(a) == cast.ToString(b)
}
