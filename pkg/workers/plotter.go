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

package workers

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/united-manufacturing-hub/daq-core/pkg/bus"
	"github.com/united-manufacturing-hub/daq-core/pkg/constants"
	"github.com/united-manufacturing-hub/daq-core/pkg/render"
	"github.com/united-manufacturing-hub/daq-core/pkg/ringbuffer"
)

const plotBatch = 4096

// PlotterConfig shapes the live view.
type PlotterConfig struct {
	// Columns are the sample value indices drawn. Empty draws all.
	Columns []int
	// Window is the time span kept per channel.
	Window time.Duration
	// Interval is the minimum time between two redraws.
	Interval time.Duration
}

// Plotter keeps the most recent window of a stream in one ring buffer per
// channel and redraws the view at most once per interval.
type Plotter struct {
	inlet    bus.Inlet
	renderer render.Renderer
	cfg      PlotterConfig
	buffers  []*ringbuffer.RingBuffer
	names    []string
	lastDraw time.Time
}

// NewPlotter resolves the stream and sizes the buffers from its sample rate.
func NewPlotter(ctx context.Context, b bus.Bus, stream string, r render.Renderer, cfg PlotterConfig) (*Plotter, error) {
	if cfg.Window <= 0 {
		cfg.Window = constants.DefaultPlotWindow
	}

	if cfg.Interval <= 0 {
		cfg.Interval = constants.DefaultPlotInterval
	}

	inlet, err := b.Inlet(ctx, stream)
	if err != nil {
		return nil, fmt.Errorf("open inlet for %s: %w", stream, err)
	}

	info := inlet.Info()
	if len(cfg.Columns) == 0 {
		for c := range info.ChannelCount {
			cfg.Columns = append(cfg.Columns, c)
		}
	}

	rate := info.SampleRate
	if rate <= 0 {
		rate = 1 / cfg.Interval.Seconds()
	}

	capacity := max(2, int(math.Ceil(cfg.Window.Seconds()*rate)))

	p := &Plotter{inlet: inlet, renderer: r, cfg: cfg}
	for _, c := range cfg.Columns {
		if c < 0 || c >= info.ChannelCount {
			_ = inlet.Close()

			return nil, fmt.Errorf("column %d out of range for %s with %d channels", c, stream, info.ChannelCount)
		}

		buf, err := ringbuffer.New(capacity)
		if err != nil {
			_ = inlet.Close()

			return nil, err
		}

		p.buffers = append(p.buffers, buf)
		p.names = append(p.names, "ch"+strconv.Itoa(c))
	}

	return p, nil
}

// Step implements supervisor.Worker.
func (p *Plotter) Step(ctx context.Context) error {
	samples, err := p.inlet.Pull(ctx, plotBatch, p.cfg.Interval)
	if err != nil {
		return err
	}

	for _, s := range samples {
		for i, c := range p.cfg.Columns {
			p.buffers[i].AppendWithTimestamp(s.Timestamp, s.Values[c])
		}
	}

	if time.Since(p.lastDraw) < p.cfg.Interval {
		return nil
	}

	p.lastDraw = time.Now()

	return p.renderer.Render(p.View())
}

// View returns the current contents of the buffers.
func (p *Plotter) View() render.View {
	v := render.View{Title: p.inlet.Info().Name}
	for i, buf := range p.buffers {
		v.Channels = append(v.Channels, render.Channel{Name: p.names[i], Points: buf.Snapshot()})
	}

	return v
}

// Close closes the inlet.
func (p *Plotter) Close() error {
	return p.inlet.Close()
}
