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
	"context"
	"sync"
)

// Queue serializes in-process requests against one database: each enqueued
// request waits for the previous one to resolve before starting, which gives
// deterministic commit ordering for admin workflows.
type Queue struct {
	mu   sync.Mutex
	tail chan struct{}
}

// NewQueue creates an empty FIFO queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Enqueue blocks until every previously enqueued request has released, then
// returns a release function the caller must invoke exactly once when its
// transaction has committed or rolled back. Enqueue honours ctx cancellation
// while waiting.
func (q *Queue) Enqueue(ctx context.Context) (release func(), err error) {
	q.mu.Lock()
	prev := q.tail
	done := make(chan struct{})
	q.tail = done
	q.mu.Unlock()

	if prev != nil {
		select {
		case <-prev:
		case <-ctx.Done():
			// Pass the turn along so later requests are not stuck behind a
			// cancelled one.
			go func() {
				<-prev
				close(done)
			}()
			return nil, ctx.Err()
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() { close(done) })
	}, nil
}
