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
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorNames(t *testing.T) {
	require := require.New(t)

	require.Equal("NOT_FOUND", ErrorName(ErrNotFound.New("User", Request{})))
	require.Equal("CONFLICT", ErrorName(ErrConflict.New("User", "dup")))
	require.Equal("UNAUTHORIZED", ErrorName(ErrUnauthorized.New(1, "write", "User")))
	require.Equal("BAD_REQUEST", ErrorName(ErrBadRequest.New("nope")))
	require.Equal("ACCESS_DENIED", ErrorName(ErrAccessDenied.New(1, "User")))

	// Anything outside the taxonomy degrades to a database error.
	require.Equal("DATABASE_ERROR", ErrorName(fmt.Errorf("boom")))
}

func TestStatusOf(t *testing.T) {
	require := require.New(t)

	require.Equal(http.StatusNotFound, StatusOf(ErrNotFound.New("User", Request{})))
	require.Equal(http.StatusConflict, StatusOf(ErrConflict.New("User", "dup")))
	require.Equal(http.StatusUnauthorized, StatusOf(ErrUnauthorized.New(1, "write", "User")))
	require.Equal(http.StatusBadRequest, StatusOf(ErrWrongValue.New("x", "integer")))
	require.Equal(http.StatusInternalServerError, StatusOf(fmt.Errorf("boom")))
}
