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

// Package bus moves timestamped samples between the workers of a session.
// A stream is created by an outlet and resolved by name by any number of
// inlets; an inlet only sees samples pushed after it was opened.
package bus

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	json "github.com/goccy/go-json"
)

var (
	ErrBusClosed       = errors.New("bus is closed")
	ErrStreamExists    = errors.New("stream already has an outlet")
	ErrStreamNotFound  = errors.New("stream not found")
	ErrInvalidStream   = errors.New("invalid stream description")
	ErrChannelMismatch = errors.New("sample channel count does not match stream")
)

// Sample is one multi-channel reading, timestamped in seconds.
type Sample struct {
	Timestamp float64   `json:"t"`
	Values    []float64 `json:"v"`
}

// StreamInfo describes a stream.
type StreamInfo struct {
	Name         string  `json:"name"`
	Type         string  `json:"type"`
	ChannelCount int     `json:"channelCount"`
	SampleRate   float64 `json:"sampleRate"`
	Format       string  `json:"format"`
	SourceID     string  `json:"sourceId"`
}

// NewStreamInfo fills SourceID with a stable hash of the description so
// that a re-created stream resolves to the same source.
func NewStreamInfo(name, typ string, channels int, rate float64, format string) StreamInfo {
	info := StreamInfo{Name: name, Type: typ, ChannelCount: channels, SampleRate: rate, Format: format}

	h := xxhash.New()
	_, _ = h.WriteString(name)
	_, _ = h.WriteString(typ)
	_, _ = h.WriteString(strconv.Itoa(channels))
	_, _ = h.WriteString(strconv.FormatFloat(rate, 'g', -1, 64))
	_, _ = h.WriteString(format)
	info.SourceID = strconv.FormatUint(h.Sum64(), 16)

	return info
}

// Validate checks the parts every transport relies on.
func (i StreamInfo) Validate() error {
	if i.Name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidStream)
	}

	if i.ChannelCount < 1 {
		return fmt.Errorf("%w: %s has %d channels", ErrInvalidStream, i.Name, i.ChannelCount)
	}

	if i.SampleRate < 0 {
		return fmt.Errorf("%w: %s has negative rate", ErrInvalidStream, i.Name)
	}

	return nil
}

func (i StreamInfo) check(samples []Sample) error {
	for _, s := range samples {
		if len(s.Values) != i.ChannelCount {
			return fmt.Errorf("%w: %s expects %d, got %d", ErrChannelMismatch, i.Name, i.ChannelCount, len(s.Values))
		}
	}

	return nil
}

// Outlet publishes samples to one stream.
type Outlet interface {
	Info() StreamInfo
	Push(ctx context.Context, samples ...Sample) error
	Close() error
}

// Inlet receives the samples of one stream.
type Inlet interface {
	Info() StreamInfo
	// Pull waits up to timeout for at least one sample and returns at most
	// max samples. An empty result with a nil error means the wait timed out.
	Pull(ctx context.Context, max int, timeout time.Duration) ([]Sample, error)
	Close() error
}

// Bus creates outlets and resolves inlets by stream name.
type Bus interface {
	Outlet(ctx context.Context, info StreamInfo) (Outlet, error)
	Inlet(ctx context.Context, name string) (Inlet, error)
	Close() error
}

func encodeSamples(samples []Sample) ([]byte, error) {
	return json.Marshal(samples)
}

func decodeSamples(data []byte) ([]Sample, error) {
	var samples []Sample
	if err := json.Unmarshal(data, &samples); err != nil {
		return nil, fmt.Errorf("decode samples: %w", err)
	}

	return samples, nil
}
