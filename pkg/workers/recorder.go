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
	"time"

	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/daq-core/pkg/bus"
	"github.com/united-manufacturing-hub/daq-core/pkg/constants"
	"github.com/united-manufacturing-hub/daq-core/pkg/logger"
	"github.com/united-manufacturing-hub/daq-core/pkg/metrics"
	"github.com/united-manufacturing-hub/daq-core/pkg/store"
)

// DefaultRecordBatch is the maximum number of samples a recorder writes per step.
const DefaultRecordBatch = 256

// RecorderConfig selects what a recorder persists.
type RecorderConfig struct {
	// Columns are the sample value indices written, in order. Empty keeps all.
	Columns []int
	// Batch bounds the samples pulled per step.
	Batch int
	// PullTimeout bounds the wait on an empty stream.
	PullTimeout time.Duration
}

// Recorder appends every sample of a stream to a table. Timestamps are
// stored relative to the first recorded sample. The table is flushed after
// every non-empty step.
type Recorder struct {
	inlet   bus.Inlet
	table   store.Table
	cfg     RecorderConfig
	started bool
	origin  float64
	log     *zap.SugaredLogger
}

// NewRecorder resolves the stream and creates its table.
func NewRecorder(ctx context.Context, b bus.Bus, st store.Store, stream string, cfg RecorderConfig) (*Recorder, error) {
	if cfg.Batch <= 0 {
		cfg.Batch = DefaultRecordBatch
	}

	if cfg.PullTimeout <= 0 {
		cfg.PullTimeout = constants.DefaultPullTimeout
	}

	inlet, err := b.Inlet(ctx, stream)
	if err != nil {
		return nil, fmt.Errorf("open inlet for %s: %w", stream, err)
	}

	info := inlet.Info()

	channels := info.ChannelCount
	if len(cfg.Columns) > 0 {
		for _, c := range cfg.Columns {
			if c < 0 || c >= info.ChannelCount {
				_ = inlet.Close()

				return nil, fmt.Errorf("column %d out of range for %s with %d channels", c, stream, info.ChannelCount)
			}
		}

		channels = len(cfg.Columns)
	}

	table, err := st.Create(store.Attributes{
		Stream:       info.Name,
		Type:         info.Type,
		SamplingRate: info.SampleRate,
		ChannelCount: channels,
		DataFormat:   info.Format,
		CreationDate: time.Now(),
	})
	if err != nil {
		_ = inlet.Close()

		return nil, fmt.Errorf("create table for %s: %w", stream, err)
	}

	return &Recorder{inlet: inlet, table: table, cfg: cfg, log: logger.For(logger.ComponentRecorder)}, nil
}

// Step implements supervisor.Worker.
func (r *Recorder) Step(ctx context.Context) error {
	samples, err := r.inlet.Pull(ctx, r.cfg.Batch, r.cfg.PullTimeout)
	if err != nil {
		return err
	}

	if len(samples) == 0 {
		return nil
	}

	for _, s := range samples {
		if !r.started {
			r.started = true
			r.origin = s.Timestamp
		}

		if err := r.table.Append(s.Timestamp-r.origin, r.columns(s.Values)); err != nil {
			return err
		}
	}

	if err := r.table.Flush(); err != nil {
		return err
	}

	metrics.AddRowsRecorded(r.inlet.Info().Name, len(samples))

	return nil
}

func (r *Recorder) columns(values []float64) []float64 {
	if len(r.cfg.Columns) == 0 {
		return values
	}

	out := make([]float64, len(r.cfg.Columns))
	for i, c := range r.cfg.Columns {
		out[i] = values[c]
	}

	return out
}

// Rows returns the number of rows written so far.
func (r *Recorder) Rows() int {
	return r.table.Rows()
}

// Close flushes and closes the table and closes the inlet.
func (r *Recorder) Close() error {
	err := errors.Join(r.table.Close(), r.inlet.Close())
	r.log.Debugf("recorder for %s closed after %d rows", r.inlet.Info().Name, r.table.Rows())

	return err
}
