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
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTypeOf(t *testing.T) {
	require := require.New(t)

	for _, tag := range []string{
		"string", "char", "varchar", "text", "binary", "varbinary",
		"integer", "float", "double", "decimal", "boolean",
		"date", "dateTime", "time", "year", "json",
	} {
		typ, ok := TypeOf(tag)
		require.True(ok, "missing type %s", tag)
		require.Equal(tag, typ.Tag())
	}
	_, ok := TypeOf("blob")
	require.False(ok)
}

func TestIntegerConvert(t *testing.T) {
	require := require.New(t)

	v, err := Integer.Convert("42")
	require.NoError(err)
	require.Equal(int64(42), v)

	v, err = Integer.Convert(float64(7))
	require.NoError(err)
	require.Equal(int64(7), v)

	_, err = Integer.Convert("not a number")
	require.Error(err)
	require.True(ErrWrongValue.Is(err))

	require.True(Integer.Check(nil))
	require.True(Integer.Check(3))
	require.False(Integer.Check("abc"))
}

func TestStringAndBooleanConvert(t *testing.T) {
	require := require.New(t)

	v, err := Varchar.Convert(12)
	require.NoError(err)
	require.Equal("12", v)

	v, err = Boolean.Convert("true")
	require.NoError(err)
	require.Equal(true, v)

	_, err = Boolean.Convert("maybe")
	require.Error(err)
}

func TestBinaryConvert(t *testing.T) {
	require := require.New(t)

	v, err := Binary.Convert([]byte{1, 2})
	require.NoError(err)
	require.Equal([]byte{1, 2}, v)

	v, err = Binary.Convert("ab")
	require.NoError(err)
	require.Equal([]byte("ab"), v)

	require.True(Binary.Equals([]byte("ab"), "ab"))
	require.False(Binary.Equals([]byte("ab"), []byte("ac")))
}

func TestTimeEqualsByTimestamp(t *testing.T) {
	require := require.New(t)

	moment := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	v, err := DateTime.Convert(moment)
	require.NoError(err)
	require.Equal(moment, v)

	require.True(DateTime.Equals(moment, moment.In(time.FixedZone("X", 3600))))
	require.False(DateTime.Equals(moment, moment.Add(time.Second)))

	_, err = DateTime.Convert("not a date")
	require.Error(err)
}

func TestNullHandling(t *testing.T) {
	require := require.New(t)

	v, err := Integer.Convert(nil)
	require.NoError(err)
	require.Nil(v)
	require.True(Integer.Equals(nil, nil))
	require.False(Integer.Equals(nil, 0))
}
