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
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/daq-core/pkg/bus"
	"github.com/united-manufacturing-hub/daq-core/pkg/logger"
	"github.com/united-manufacturing-hub/daq-core/pkg/metrics"
)

// Publisher pushes the samples of a source to a stream. With a non-zero
// interval every step is paced to one call of the source per interval.
type Publisher struct {
	source   Source
	outlet   bus.Outlet
	interval time.Duration
	next     time.Time
	log      *zap.SugaredLogger
}

// NewPublisher publishes source to outlet. The publisher owns the outlet.
func NewPublisher(source Source, outlet bus.Outlet, interval time.Duration) *Publisher {
	return &Publisher{
		source:   source,
		outlet:   outlet,
		interval: interval,
		log:      logger.For(logger.ComponentPublisher),
	}
}

// Step implements supervisor.Worker.
func (p *Publisher) Step(ctx context.Context) error {
	if err := p.pace(ctx); err != nil {
		return err
	}

	samples, err := p.source.Next(ctx)
	if err != nil {
		return err
	}

	if len(samples) == 0 {
		return nil
	}

	if err := p.outlet.Push(ctx, samples...); err != nil {
		return err
	}

	metrics.AddSamplesPublished(p.outlet.Info().Name, len(samples))

	return nil
}

func (p *Publisher) pace(ctx context.Context) error {
	if p.interval <= 0 {
		return nil
	}

	now := time.Now()
	if p.next.IsZero() || now.Sub(p.next) > p.interval {
		// First step, or too far behind to catch up.
		p.next = now
	}

	wait := time.Until(p.next)
	p.next = p.next.Add(p.interval)

	if wait <= 0 {
		return nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Close closes the outlet and, if it is closable, the source.
func (p *Publisher) Close() error {
	var errs []error

	if c, ok := p.source.(io.Closer); ok {
		errs = append(errs, c.Close())
	}

	errs = append(errs, p.outlet.Close())
	p.log.Debugf("publisher for %s closed", p.outlet.Info().Name)

	return errors.Join(errs...)
}
