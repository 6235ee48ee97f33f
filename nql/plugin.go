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

// HookParams carries the arguments of a plugin callback. Which fields are
// populated depends on the pipeline point: Request is always set and may be
// mutated by the callback (this is the intended extension point); Results is
// set from onProcessing onwards; the remaining fields are set by the
// mutation hooks they describe.
type HookParams struct {
	Table   string
	Request Request
	Parent  Request
	Results []Row

	// Created is the row just inserted (onCreation).
	Created Row
	// Deleted holds the rows just removed (onDeletion).
	Deleted []Row
	// Objects holds the rows affected by a set instruction (onUpdate).
	Objects []Row
	// OldValues holds, per reservedId, the previous values of the columns
	// touched by set (onUpdate).
	OldValues map[int64]Row
	// NewValues holds the values written by set (onUpdate).
	NewValues Row
	// Field names the array field changed by add or remove (onListUpdate).
	Field string
	// Added and Removed hold the rows linked or unlinked (onListUpdate).
	Added   []Row
	Removed []Row
}

// Hook is a plugin callback attached to one table at one pipeline point.
// Returning an error aborts the transaction.
type Hook func(ctx *Context, p *HookParams) error

// LifecycleHook is a request-lifetime callback: onSuccess runs before commit
// with the full results, onError after rollback with the original error.
type LifecycleHook func(ctx *Context, results Result, err error) error

// Plugin extends the engine with callbacks at fixed pipeline points. All
// callback maps are keyed by table name. Middleware and ErrorHandler are
// opaque to the core; the HTTP front end consumes them.
type Plugin struct {
	// PreRequisite runs once at startup against the declared tables.
	PreRequisite func(tables Tables) error
	// Middleware is a request-entry adapter, opaque to the core.
	Middleware interface{}
	// ErrorHandler is an error adapter, opaque to the core.
	ErrorHandler interface{}

	OnRequest    map[string]Hook
	OnProcessing map[string]Hook
	OnResult     map[string]Hook
	OnCreation   map[string]Hook
	OnDeletion   map[string]Hook
	OnUpdate     map[string]Hook
	OnListUpdate map[string]Hook

	OnSuccess LifecycleHook
	OnError   LifecycleHook
}
