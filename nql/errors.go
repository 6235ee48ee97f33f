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
	"net/http"

	errors "gopkg.in/src-d/go-errors.v1"
)

var (
	// ErrRequired is returned when a sub-request marked required matched no rows.
	ErrRequired = errors.NewKind("no row matching the required %s request %s")

	// ErrNotSettable is returned when a set instruction on an object reference
	// resolved to no target row.
	ErrNotSettable = errors.NewKind("cannot set %s in table %s: no row matches %s")

	// ErrNotUnique is returned when a reference sub-request resolved to more
	// than one row, or when a unique index is violated.
	ErrNotUnique = errors.NewKind("expected a single row for %s in table %s")

	// ErrNotFound is returned when a referenced row does not exist. The table
	// resolver recovers it into an empty result unless the sub-request was
	// marked required.
	ErrNotFound = errors.NewKind("table %s contains no row matching %s")

	// ErrBadRequest is returned for any malformed request or declared schema.
	ErrBadRequest = errors.NewKind("bad request: %s")

	// ErrPayloadTooLarge is returned when a request exceeds the configured limits.
	ErrPayloadTooLarge = errors.NewKind("request exceeds the maximum size: %s")

	// ErrWrongPassword is reserved for authentication plugins.
	ErrWrongPassword = errors.NewKind("wrong password provided for user %s")

	// ErrUnauthorized is returned when an access rule denies a write, create,
	// delete, add or remove.
	ErrUnauthorized = errors.NewKind("user %v is not allowed to %s in table %s")

	// ErrDatabaseError wraps failures coming from the driver.
	ErrDatabaseError = errors.NewKind("database error: %s")

	// ErrForbidden is returned when an operation is forbidden regardless of
	// the requester's identity.
	ErrForbidden = errors.NewKind("operation forbidden: %s")

	// ErrAccessDenied is returned when reading a table the requester may not see.
	ErrAccessDenied = errors.NewKind("user %v cannot access table %s")

	// ErrWrongValue is returned when a value does not match its column type.
	ErrWrongValue = errors.NewKind("wrong value %v for %s")

	// ErrConflict is returned on duplicate keys and concurrent edits.
	ErrConflict = errors.NewKind("conflict on table %s: %s")

	// ErrTooManyRequests is reserved for the rate-limiting front end.
	ErrTooManyRequests = errors.NewKind("too many requests: %s")
)

// wireNames maps each error kind of the closed taxonomy to its wire name.
var wireNames = []struct {
	kind *errors.Kind
	name string
	code int
}{
	{ErrRequired, "REQUIRED", http.StatusNotFound},
	{ErrNotSettable, "NOT_SETTABLE", http.StatusNotFound},
	{ErrNotUnique, "NOT_UNIQUE", http.StatusConflict},
	{ErrNotFound, "NOT_FOUND", http.StatusNotFound},
	{ErrBadRequest, "BAD_REQUEST", http.StatusBadRequest},
	{ErrPayloadTooLarge, "PAYLOAD_TOO_LARGE", http.StatusRequestEntityTooLarge},
	{ErrWrongPassword, "WRONG_PASSWORD", http.StatusUnauthorized},
	{ErrUnauthorized, "UNAUTHORIZED", http.StatusUnauthorized},
	{ErrDatabaseError, "DATABASE_ERROR", http.StatusInternalServerError},
	{ErrForbidden, "FORBIDDEN", http.StatusForbidden},
	{ErrAccessDenied, "ACCESS_DENIED", http.StatusUnauthorized},
	{ErrWrongValue, "WRONG_VALUE", http.StatusBadRequest},
	{ErrConflict, "CONFLICT", http.StatusConflict},
	{ErrTooManyRequests, "TOO_MANY_REQUESTS", http.StatusTooManyRequests},
}

// ErrorName returns the wire name of err if it belongs to the closed error
// taxonomy, or "DATABASE_ERROR" for anything else that reaches the client.
func ErrorName(err error) string {
	for _, e := range wireNames {
		if e.kind.Is(err) {
			return e.name
		}
	}
	return "DATABASE_ERROR"
}

// StatusOf returns the transport status code an external mapper should use
// for err.
func StatusOf(err error) int {
	for _, e := range wireNames {
		if e.kind.Is(err) {
			return e.code
		}
	}
	return http.StatusInternalServerError
}
