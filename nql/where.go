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
	"regexp"
	"sort"
	"strings"

	"github.com/spf13/cast"
)

// Match reports whether row satisfies every constraint of the Where clause.
// A plain value matches by equality, a slice matches any of its elements, and
// a nested map applies every operator it contains.
func (w Where) Match(row Row) bool {
	for column, constraint := range w {
		if !matchConstraint(row[column], constraint) {
			return false
		}
	}
	return true
}

func matchConstraint(value, constraint interface{}) bool {
	switch c := constraint.(type) {
	case nil:
		return value == nil
	case map[string]interface{}:
		return matchOperators(value, c)
	case Where:
		return matchOperators(value, c)
	case []interface{}:
		for _, alt := range c {
			if matchConstraint(value, alt) {
				return true
			}
		}
		return false
	case []string:
		for _, alt := range c {
			if ValuesEqual(value, alt) {
				return true
			}
		}
		return false
	case []int64:
		for _, alt := range c {
			if ValuesEqual(value, alt) {
				return true
			}
		}
		return false
	case []int:
		for _, alt := range c {
			if ValuesEqual(value, alt) {
				return true
			}
		}
		return false
	default:
		return ValuesEqual(value, constraint)
	}
}

func matchOperators(value interface{}, operators map[string]interface{}) bool {
	for op, operand := range operators {
		switch op {
		case "not", "!":
			if matchConstraint(value, operand) {
				return false
			}
		case "like", "~":
			pattern, err := cast.ToStringE(operand)
			if err != nil || !matchLike(cast.ToString(value), pattern) {
				return false
			}
		case "gt", ">":
			if CompareValues(value, operand) <= 0 {
				return false
			}
		case "ge", ">=":
			if CompareValues(value, operand) < 0 {
				return false
			}
		case "lt", "<":
			if CompareValues(value, operand) >= 0 {
				return false
			}
		case "le", "<=":
			if CompareValues(value, operand) > 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// matchLike implements the SQL LIKE pattern language: % matches any run of
// characters and _ a single one.
func matchLike(value, pattern string) bool {
	var sb strings.Builder
	sb.WriteString("(?s)^")
	for _, r := range pattern {
		switch r {
		case '%':
			sb.WriteString(".*")
		case '_':
			sb.WriteString(".")
		default:
			sb.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	sb.WriteString("$")
	re, err := regexp.Compile(sb.String())
	if err != nil {
		return false
	}
	return re.MatchString(value)
}

// ValuesEqual compares two column values loosely: numbers by magnitude,
// times by timestamp, everything else by string form.
func ValuesEqual(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if fa, err := cast.ToFloat64E(a); err == nil {
		if fb, err := cast.ToFloat64E(b); err == nil {
			return fa == fb
		}
	}
	if ta, err := cast.ToTimeE(a); err == nil {
		if tb, err := cast.ToTimeE(b); err == nil {
			return ta.UnixNano() == tb.UnixNano()
		}
	}
	return cast.ToString(a) == cast.ToString(b)
}

// CompareValues orders two column values: negative when a < b, zero when
// equal, positive when a > b. Nil sorts before everything.
func CompareValues(a, b interface{}) int {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return -1
		default:
			return 1
		}
	}
	if fa, err := cast.ToFloat64E(a); err == nil {
		if fb, err := cast.ToFloat64E(b); err == nil {
			switch {
			case fa < fb:
				return -1
			case fa > fb:
				return 1
			default:
				return 0
			}
		}
	}
	if ta, err := cast.ToTimeE(a); err == nil {
		if tb, err := cast.ToTimeE(b); err == nil {
			switch {
			case ta.Before(tb):
				return -1
			case ta.After(tb):
				return 1
			default:
				return 0
			}
		}
	}
	return strings.Compare(cast.ToString(a), cast.ToString(b))
}

// SortRows orders rows by the given column list. A leading '-' sorts that
// column descending. The sort is stable so ties keep their previous order.
func SortRows(rows []Row, order []string) {
	if len(order) == 0 {
		return
	}
	sort.SliceStable(rows, func(i, j int) bool {
		for _, column := range order {
			desc := strings.HasPrefix(column, "-")
			name := strings.TrimPrefix(column, "-")
			cmp := CompareValues(rows[i][name], rows[j][name])
			if cmp == 0 {
				continue
			}
			if desc {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})
}

// Window applies offset and limit to an already ordered row slice. A limit of
// zero or less means no limit.
func Window(rows []Row, offset, limit int) []Row {
	if offset > 0 {
		if offset >= len(rows) {
			return []Row{}
		}
		rows = rows[offset:]
	}
	if limit > 0 && limit < len(rows) {
		rows = rows[:limit]
	}
	return rows
}
