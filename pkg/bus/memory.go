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

package bus

import (
	"context"
	"fmt"
	"sync"

	"github.com/tiendc/go-deepcopy"
)

// DefaultInletBuffer is the number of samples an in-process inlet holds.
const DefaultInletBuffer = 1 << 14

type memoryStream struct {
	info   StreamInfo
	inlets map[int]*queueInlet
	nextID int
}

// Memory is an in-process Bus. Every inlet receives its own copy of each
// sample.
type Memory struct {
	mu      sync.RWMutex
	streams map[string]*memoryStream
	buffer  int
	closed  bool
}

// NewMemory returns an empty in-process bus.
func NewMemory() *Memory {
	return &Memory{streams: make(map[string]*memoryStream), buffer: DefaultInletBuffer}
}

// Outlet creates the stream described by info.
func (m *Memory) Outlet(_ context.Context, info StreamInfo) (Outlet, error) {
	if err := info.Validate(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrBusClosed
	}

	if _, exists := m.streams[info.Name]; exists {
		return nil, fmt.Errorf("%w: %s", ErrStreamExists, info.Name)
	}

	m.streams[info.Name] = &memoryStream{info: info, inlets: make(map[int]*queueInlet)}

	return &memoryOutlet{bus: m, info: info}, nil
}

// Inlet subscribes to the named stream.
func (m *Memory) Inlet(_ context.Context, name string) (Inlet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrBusClosed
	}

	stream, ok := m.streams[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrStreamNotFound, name)
	}

	id := stream.nextID
	stream.nextID++

	inlet := newQueueInlet(stream.info, m.buffer, func() { m.unsubscribe(name, id) })
	stream.inlets[id] = inlet

	return inlet, nil
}

func (m *Memory) unsubscribe(name string, id int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if stream, ok := m.streams[name]; ok {
		delete(stream.inlets, id)
	}
}

func (m *Memory) publish(name string, samples []Sample) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return ErrBusClosed
	}

	stream, ok := m.streams[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrStreamNotFound, name)
	}

	for _, inlet := range stream.inlets {
		for _, s := range samples {
			var c Sample
			if err := deepcopy.Copy(&c, s); err != nil {
				return fmt.Errorf("copy sample: %w", err)
			}

			inlet.offer(c)
		}
	}

	return nil
}

func (m *Memory) removeStream(name string) {
	m.mu.Lock()
	stream, ok := m.streams[name]
	delete(m.streams, name)
	m.mu.Unlock()

	if !ok {
		return
	}

	for _, inlet := range stream.inlets {
		inlet.once.Do(func() { close(inlet.done) })
	}
}

// Close drops every stream. Open inlets return an error on their next pull.
func (m *Memory) Close() error {
	m.mu.Lock()
	names := make([]string, 0, len(m.streams))
	for name := range m.streams {
		names = append(names, name)
	}
	m.mu.Unlock()

	for _, name := range names {
		m.removeStream(name)
	}

	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	return nil
}

type memoryOutlet struct {
	bus  *Memory
	info StreamInfo
	once sync.Once
}

func (o *memoryOutlet) Info() StreamInfo {
	return o.info
}

func (o *memoryOutlet) Push(_ context.Context, samples ...Sample) error {
	if err := o.info.check(samples); err != nil {
		return err
	}

	return o.bus.publish(o.info.Name, samples)
}

// Close removes the stream from the bus.
func (o *memoryOutlet) Close() error {
	o.once.Do(func() { o.bus.removeStream(o.info.Name) })

	return nil
}
