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
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/united-manufacturing-hub/daq-core/pkg/bus"
	"github.com/united-manufacturing-hub/daq-core/pkg/constants"
	"github.com/united-manufacturing-hub/daq-core/pkg/logger"
	"github.com/united-manufacturing-hub/daq-core/pkg/render"
	"github.com/united-manufacturing-hub/daq-core/pkg/store"
	"github.com/united-manufacturing-hub/daq-core/pkg/supervisor"
	"github.com/united-manufacturing-hub/daq-core/pkg/utilization"
)

const (
	// DataStream carries the acquired samples.
	DataStream = "data"
	// UtilizationStream carries host CPU and memory load.
	UtilizationStream = "util"
)

// Registrar is the part of the supervisor a pipeline registers with.
type Registrar interface {
	Register(name string, w supervisor.Worker) error
}

// Pipeline describes the workers of one acquisition session.
type Pipeline struct {
	Bus   bus.Bus
	Store store.Store

	// Data feeds the data stream described by DataInfo.
	Data         Source
	DataInfo     bus.StreamInfo
	DataInterval time.Duration
	// RecordColumns are the data columns persisted. Empty keeps all.
	RecordColumns []int

	TrackUtilization bool
	UtilizationRate  float64
	Utilization      utilization.Source

	// Plot enables the live view when set.
	Plot        render.Renderer
	PlotColumns []int
	PlotWindow  time.Duration
	PullTimeout time.Duration
}

// Register creates the streams, recorders and plotter and registers every
// worker. Outlets are created before the inlets that resolve them. On error
// everything created so far is closed.
func (p Pipeline) Register(ctx context.Context, r Registrar) error {
	if p.Bus == nil || p.Store == nil || p.Data == nil {
		return errors.New("pipeline needs a bus, a store and a data source")
	}

	log := logger.For(logger.ComponentWorker)

	var created []io.Closer

	fail := func(err error) error {
		for i := len(created) - 1; i >= 0; i-- {
			_ = created[i].Close()
		}

		return err
	}

	add := func(name string, w closingWorker) error {
		created = append(created, w)
		if err := r.Register(name, w); err != nil {
			return fmt.Errorf("register %s: %w", name, err)
		}

		return nil
	}

	if err := p.stream(ctx, p.Data, p.DataInfo, p.DataInterval, p.RecordColumns, add); err != nil {
		return fail(err)
	}

	if p.TrackUtilization {
		rate := p.UtilizationRate
		if rate <= 0 {
			rate = constants.DefaultUtilizationRate
		}

		info := bus.NewStreamInfo(UtilizationStream, "utilization", len(utilization.Channels), rate, "float64")
		interval := time.Duration(float64(time.Second) / rate)

		if err := p.stream(ctx, NewUtilizationSource(p.Utilization), info, interval, nil, add); err != nil {
			return fail(err)
		}
	}

	if p.Plot != nil {
		plotter, err := NewPlotter(ctx, p.Bus, p.DataInfo.Name, p.Plot, PlotterConfig{
			Columns: p.PlotColumns,
			Window:  p.PlotWindow,
		})
		if err != nil {
			return fail(err)
		}

		if err := add("plotter:"+p.DataInfo.Name, plotter); err != nil {
			return fail(err)
		}
	}

	log.Infof("pipeline registered: data=%s utilization=%t plot=%t", p.DataInfo.Name, p.TrackUtilization, p.Plot != nil)

	return nil
}

type closingWorker interface {
	supervisor.Worker
	io.Closer
}

type addFunc func(name string, w closingWorker) error

// stream wires one publisher and its recorder.
func (p Pipeline) stream(ctx context.Context, src Source, info bus.StreamInfo, interval time.Duration, columns []int, add addFunc) error {
	outlet, err := p.Bus.Outlet(ctx, info)
	if err != nil {
		return fmt.Errorf("create stream %s: %w", info.Name, err)
	}

	if err := add("publisher:"+info.Name, NewPublisher(src, outlet, interval)); err != nil {
		return err
	}

	rec, err := NewRecorder(ctx, p.Bus, p.Store, info.Name, RecorderConfig{Columns: columns, PullTimeout: p.PullTimeout})
	if err != nil {
		return err
	}

	return add("recorder:"+info.Name, rec)
}
