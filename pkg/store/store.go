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

// Package store persists recorded streams as append-only tables.
package store

import (
	"errors"
	"time"
)

// ErrClosed is returned when writing to a closed table.
var ErrClosed = errors.New("table is closed")

// Attributes describe a recording.
type Attributes struct {
	Stream       string    `json:"stream"`
	Type         string    `json:"type"`
	SamplingRate float64   `json:"samplingRate"`
	ChannelCount int       `json:"channelCount"`
	DataFormat   string    `json:"dataFormat"`
	CreationDate time.Time `json:"creationDate"`
}

// Table is an append-only two-dimensional numeric table with a parallel
// timestamp column.
type Table interface {
	// Append adds one row. len(values) must equal ChannelCount.
	Append(ts float64, values []float64) error
	// Flush makes every appended row durable.
	Flush() error
	Rows() int
	Close() error
}

// Store creates tables.
type Store interface {
	Create(attrs Attributes) (Table, error)
}

// Recording is a table read back into memory.
type Recording struct {
	Attributes
	Path string
	Time []float64
	Data [][]float64
}
