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

// Package workers holds the session tasks: sources feeding a publisher, the
// recorder persisting a stream, and the plotter keeping the live view.
package workers

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/united-manufacturing-hub/daq-core/pkg/bus"
	"github.com/united-manufacturing-hub/daq-core/pkg/frame"
	"github.com/united-manufacturing-hub/daq-core/pkg/metrics"
	"github.com/united-manufacturing-hub/daq-core/pkg/utilization"
)

// Source produces samples for a publisher. Next returns no samples and a
// nil error when nothing was available within its own timeout.
type Source interface {
	Next(ctx context.Context) ([]bus.Sample, error)
}

// FrameReader is the part of a serial channel the frame source reads from.
type FrameReader interface {
	Read(n int) ([]byte, error)
}

// FrameSource reads one instrument frame per call. Each sample carries the
// frame index followed by the channel values. Bytes of an incomplete read are
// kept for the next call; after a malformed frame the source realigns on the
// next header byte.
type FrameSource struct {
	reader  FrameReader
	layout  frame.Layout
	pending []byte
}

// NewFrameSource reads frames of the given layout from r.
func NewFrameSource(r FrameReader, layout frame.Layout) *FrameSource {
	return &FrameSource{reader: r, layout: layout}
}

// Channels is the width of the produced samples.
func (s *FrameSource) Channels() int {
	return s.layout.Channels + 1
}

// Next implements Source. Malformed frames are counted and dropped.
func (s *FrameSource) Next(context.Context) ([]bus.Sample, error) {
	width := s.layout.Width()

	buf, err := s.reader.Read(width - len(s.pending))
	s.pending = append(s.pending, buf...)

	if err != nil {
		return nil, err
	}

	if len(s.pending) < width {
		return nil, nil
	}

	decoded := s.layout.Decode(s.pending)
	if len(decoded) == 0 {
		metrics.IncFramesMalformed()
		s.pending = frame.Resync(s.pending)

		return nil, nil
	}

	s.pending = s.pending[:0]

	metrics.AddFramesDecoded(len(decoded))

	samples := make([]bus.Sample, 0, len(decoded))
	for _, d := range decoded {
		row := d.Row()
		values := make([]float64, len(row))

		for i, v := range row {
			values[i] = float64(v)
		}

		samples = append(samples, bus.Sample{Timestamp: d.Timestamp, Values: values})
	}

	return samples, nil
}

// SinePhaseStep is the phase advance of the sine source per sample.
const SinePhaseStep = math.Pi / 20

// SineSource emits phase-shifted sine waves with full int16 amplitude,
// channel ch shifted by pi*ch/C.
type SineSource struct {
	mu       sync.Mutex
	channels int
	phase    float64
	began    time.Time
	now      func() time.Time
}

// NewSineSource returns a sine source with the given number of channels.
func NewSineSource(channels int) *SineSource {
	return &SineSource{channels: channels, now: time.Now}
}

// Values returns the values at the current phase and advances it.
func (s *SineSource) Values() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	values := make([]int64, s.channels)
	for ch := range values {
		values[ch] = int64((math.MaxInt16) * math.Sin(s.phase+math.Pi*float64(ch)/float64(s.channels)))
	}

	s.phase += SinePhaseStep

	return values
}

// Next implements Source.
func (s *SineSource) Next(context.Context) ([]bus.Sample, error) {
	s.mu.Lock()
	if s.began.IsZero() {
		s.began = s.now()
	}
	ts := s.now().Sub(s.began).Seconds()
	s.mu.Unlock()

	ints := s.Values()
	values := make([]float64, len(ints))

	for i, v := range ints {
		values[i] = float64(v)
	}

	return []bus.Sample{{Timestamp: ts, Values: values}}, nil
}

// CounterSource emits a single channel counting up from zero, stamped with
// the wall clock in seconds.
type CounterSource struct {
	mu    sync.Mutex
	count float64
}

// Next implements Source.
func (c *CounterSource) Next(context.Context) ([]bus.Sample, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := bus.Sample{Timestamp: float64(time.Now().UnixNano()) / 1e9, Values: []float64{c.count}}
	c.count++

	return []bus.Sample{s}, nil
}

// UtilizationSource emits host utilization in utilization.Channels order.
type UtilizationSource struct {
	reader utilization.Source
}

// NewUtilizationSource samples r; a nil r reads the host.
func NewUtilizationSource(r utilization.Source) *UtilizationSource {
	if r == nil {
		r = utilization.Host{}
	}

	return &UtilizationSource{reader: r}
}

// Next implements Source.
func (u *UtilizationSource) Next(ctx context.Context) ([]bus.Sample, error) {
	reading, err := u.reader.Read(ctx)
	if err != nil {
		return nil, err
	}

	return []bus.Sample{{Timestamp: float64(time.Now().UnixNano()) / 1e9, Values: reading.Values()}}, nil
}
