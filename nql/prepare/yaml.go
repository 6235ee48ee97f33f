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

package prepare

import (
	"gopkg.in/yaml.v2"

	"github.com/dolthub/nestql/nql"
)

// ParseYAML reads a declarative schema from a YAML document. Column
// shorthands ("type/length"), descriptors, object references (the name of
// another table) and array references (a one-element list) are all accepted,
// like in-code definitions.
func ParseYAML(data []byte) (SchemaDef, error) {
	var raw map[string]map[interface{}]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, nql.ErrBadRequest.New("invalid schema document: " + err.Error())
	}

	def := make(SchemaDef, len(raw))
	for name, table := range raw {
		td := make(TableDef, len(table))
		for field, value := range table {
			td[toKey(field)] = normalizeYAML(value)
		}
		def[name] = td
	}
	return def, nil
}

func toKey(k interface{}) string {
	if s, ok := k.(string); ok {
		return s
	}
	return ""
}

// normalizeYAML rewrites yaml.v2 interface-keyed maps into string-keyed ones
// so the preparer sees the same shapes as in-code definitions.
func normalizeYAML(v interface{}) interface{} {
	switch value := v.(type) {
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(value))
		for k, e := range value {
			out[toKey(k)] = normalizeYAML(e)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(value))
		for i, e := range value {
			out[i] = normalizeYAML(e)
		}
		return out
	default:
		return v
	}
}
