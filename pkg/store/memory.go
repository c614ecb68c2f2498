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

package store

import (
	"fmt"
	"slices"
	"sync"
)

// MemoryStore keeps tables in memory.
type MemoryStore struct {
	mu     sync.Mutex
	tables []*MemoryTable
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Create adds a table.
func (s *MemoryStore) Create(attrs Attributes) (Table, error) {
	if attrs.ChannelCount < 1 {
		return nil, fmt.Errorf("recording %s needs at least one channel", attrs.Stream)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t := &MemoryTable{attrs: attrs}
	s.tables = append(s.tables, t)

	return t, nil
}

// Tables returns every table created so far.
func (s *MemoryStore) Tables() []*MemoryTable {
	s.mu.Lock()
	defer s.mu.Unlock()

	return slices.Clone(s.tables)
}

// MemoryTable is a Table held in memory. Flushed rows are visible through
// Recording.
type MemoryTable struct {
	mu      sync.Mutex
	attrs   Attributes
	time    []float64
	data    [][]float64
	flushed int
	flushes int
	closed  bool
}

func (t *MemoryTable) Append(ts float64, values []float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrClosed
	}

	if len(values) != t.attrs.ChannelCount {
		return fmt.Errorf("row has %d values, %s expects %d", len(values), t.attrs.Stream, t.attrs.ChannelCount)
	}

	t.time = append(t.time, ts)
	t.data = append(t.data, slices.Clone(values))

	return nil
}

func (t *MemoryTable) Flush() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrClosed
	}

	t.flushed = len(t.time)
	t.flushes++

	return nil
}

func (t *MemoryTable) Rows() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.time)
}

// Flushes returns how often Flush was called.
func (t *MemoryTable) Flushes() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.flushes
}

func (t *MemoryTable) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.flushed = len(t.time)
	t.closed = true

	return nil
}

// Recording returns the flushed rows.
func (t *MemoryTable) Recording() *Recording {
	t.mu.Lock()
	defer t.mu.Unlock()

	return &Recording{
		Attributes: t.attrs,
		Time:       slices.Clone(t.time[:t.flushed]),
		Data:       slices.Clone(t.data[:t.flushed]),
	}
}
