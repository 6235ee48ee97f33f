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
	"bytes"
	"reflect"

	"github.com/spf13/cast"
)

// Type is the runtime behavior of a column type tag: value checking,
// conversion into the canonical Go representation and equality.
type Type interface {
	// Tag returns the declared type tag, e.g. "varchar" or "dateTime".
	Tag() string
	// Check reports whether v can be stored in a column of this type.
	Check(v interface{}) bool
	// Convert coerces v into the canonical representation for this type.
	Convert(v interface{}) (interface{}, error)
	// Equals compares two values of this type. Dates compare by timestamp.
	Equals(a, b interface{}) bool
}

type typeKind int

const (
	kindText typeKind = iota
	kindBinary
	kindInt
	kindFloat
	kindBool
	kindTime
	kindJSON
)

type columnType struct {
	tag  string
	kind typeKind
}

var (
	String    Type = columnType{"string", kindText}
	Char      Type = columnType{"char", kindText}
	Varchar   Type = columnType{"varchar", kindText}
	Text      Type = columnType{"text", kindText}
	Binary    Type = columnType{"binary", kindBinary}
	Varbinary Type = columnType{"varbinary", kindBinary}
	Integer   Type = columnType{"integer", kindInt}
	Float     Type = columnType{"float", kindFloat}
	Double    Type = columnType{"double", kindFloat}
	Decimal   Type = columnType{"decimal", kindFloat}
	Boolean   Type = columnType{"boolean", kindBool}
	Date      Type = columnType{"date", kindTime}
	DateTime  Type = columnType{"dateTime", kindTime}
	Time      Type = columnType{"time", kindTime}
	Year      Type = columnType{"year", kindInt}
	JSON      Type = columnType{"json", kindJSON}
)

var typesByTag = map[string]Type{}

func init() {
	for _, t := range []Type{
		String, Char, Varchar, Text, Binary, Varbinary, Integer, Float,
		Double, Decimal, Boolean, Date, DateTime, Time, Year, JSON,
	} {
		typesByTag[t.Tag()] = t
	}
}

// TypeOf returns the Type for the given declared tag.
func TypeOf(tag string) (Type, bool) {
	t, ok := typesByTag[tag]
	return t, ok
}

func (t columnType) Tag() string { return t.tag }

func (t columnType) Check(v interface{}) bool {
	if v == nil {
		return true
	}
	_, err := t.Convert(v)
	return err == nil
}

func (t columnType) Convert(v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}

	switch t.kind {
	case kindText:
		return cast.ToStringE(v)
	case kindBinary:
		switch b := v.(type) {
		case []byte:
			return b, nil
		default:
			s, err := cast.ToStringE(v)
			if err != nil {
				return nil, ErrWrongValue.New(v, t.tag)
			}
			return []byte(s), nil
		}
	case kindInt:
		i, err := cast.ToInt64E(v)
		if err != nil {
			return nil, ErrWrongValue.New(v, t.tag)
		}
		return i, nil
	case kindFloat:
		f, err := cast.ToFloat64E(v)
		if err != nil {
			return nil, ErrWrongValue.New(v, t.tag)
		}
		return f, nil
	case kindBool:
		b, err := cast.ToBoolE(v)
		if err != nil {
			return nil, ErrWrongValue.New(v, t.tag)
		}
		return b, nil
	case kindTime:
		ts, err := cast.ToTimeE(v)
		if err != nil {
			return nil, ErrWrongValue.New(v, t.tag)
		}
		return ts, nil
	case kindJSON:
		return v, nil
	}
	return nil, ErrWrongValue.New(v, t.tag)
}

func (t columnType) Equals(a, b interface{}) bool {
	ca, err := t.Convert(a)
	if err != nil {
		return false
	}
	cb, err := t.Convert(b)
	if err != nil {
		return false
	}
	if ca == nil || cb == nil {
		return ca == nil && cb == nil
	}

	switch t.kind {
	case kindTime:
		ta, _ := cast.ToTimeE(ca)
		tb, _ := cast.ToTimeE(cb)
		return ta.UnixNano() == tb.UnixNano()
	case kindBinary:
		return bytes.Equal(ca.([]byte), cb.([]byte))
	default:
		return reflect.DeepEqual(ca, cb)
	}
}
