// Copyright 2025 UMH Systems GmbH
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

package supervisor

import (
	"sync"

	"github.com/eapache/queue"
)

// FaultQueue is an unbounded, mutex guarded FIFO of faults. Any goroutine may
// push; the session owner pops.
type FaultQueue struct {
	mu sync.Mutex
	q  *queue.Queue
}

// NewFaultQueue returns an empty queue.
func NewFaultQueue() *FaultQueue {
	return &FaultQueue{q: queue.New()}
}

// Push appends err. Nil errors are ignored.
func (f *FaultQueue) Push(err error) {
	if err == nil {
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.q.Add(err)
}

// Pop removes and returns the oldest fault, or nil when the queue is empty.
func (f *FaultQueue) Pop() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.q.Length() == 0 {
		return nil
	}

	return f.q.Remove().(error)
}

// PopFunc removes and returns the oldest fault for which match returns true.
// Other faults keep their order. It returns nil when nothing matches.
func (f *FaultQueue) PopFunc(match func(error) bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var found error

	for n := f.q.Length(); n > 0; n-- {
		err := f.q.Remove().(error)
		if found == nil && match(err) {
			found = err

			continue
		}

		f.q.Add(err)
	}

	return found
}

// Len returns the number of queued faults.
func (f *FaultQueue) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.q.Length()
}
