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

// Package ringbuffer holds the most recent points of a signal for display.
package ringbuffer

import (
	"errors"
	"sync"
)

// ErrCapacity is returned for a capacity below one.
var ErrCapacity = errors.New("ring buffer capacity must be at least 1")

// Point is one (timestamp, value) pair.
type Point struct {
	T float64
	V float64
}

// RingBuffer keeps the last Cap() points. Appends overwrite the oldest
// point once the buffer is full; snapshots always contain Cap() points.
// It is safe for one writer and any number of readers.
type RingBuffer struct {
	mu    sync.RWMutex
	data  []Point
	next  int // slot written by the next append
	count uint64
}

// New allocates a buffer with the given capacity. Unwritten slots read as
// zero points.
func New(capacity int) (*RingBuffer, error) {
	if capacity < 1 {
		return nil, ErrCapacity
	}

	return &RingBuffer{data: make([]Point, capacity)}, nil
}

// Append stores value using the running append count as its timestamp.
func (r *RingBuffer) Append(value float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.put(Point{T: float64(r.count), V: value})
}

// AppendWithTimestamp stores value at timestamp ts.
func (r *RingBuffer) AppendWithTimestamp(ts, value float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.put(Point{T: ts, V: value})
}

func (r *RingBuffer) put(p Point) {
	r.data[r.next] = p
	r.next = (r.next + 1) % len(r.data)
	r.count++
}

// Snapshot returns a copy of all Cap() slots, oldest first. Before the
// buffer has filled the zero slots come first.
func (r *RingBuffer) Snapshot() []Point {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Point, 0, len(r.data))
	out = append(out, r.data[r.next:]...)

	return append(out, r.data[:r.next]...)
}

// Len returns the number of written slots, at most Cap().
func (r *RingBuffer) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.count > uint64(len(r.data)) {
		return len(r.data)
	}

	return int(r.count)
}

// Cap returns the capacity.
func (r *RingBuffer) Cap() int {
	return len(r.data)
}
