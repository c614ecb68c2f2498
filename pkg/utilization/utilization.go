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

// Package utilization samples host CPU and memory load.
package utilization

import (
	"context"
	"errors"
	"fmt"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// Channels are the values of one utilization sample, in order.
var Channels = []string{"cpu_percent", "memory_percent"}

// Reading is one utilization sample.
type Reading struct {
	CPUPercent    float64
	MemoryPercent float64
}

// Values returns the reading in Channels order.
func (r Reading) Values() []float64 {
	return []float64{r.CPUPercent, r.MemoryPercent}
}

// Source reads the current host utilization.
type Source interface {
	Read(ctx context.Context) (Reading, error)
}

// Host reads utilization from the operating system. CPU load is averaged
// since the previous call.
type Host struct{}

// Read implements Source.
func (Host) Read(ctx context.Context) (Reading, error) {
	cpuPercent, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return Reading{}, fmt.Errorf("read cpu load: %w", err)
	}

	if len(cpuPercent) == 0 {
		return Reading{}, errors.New("read cpu load: no value")
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return Reading{}, fmt.Errorf("read memory: %w", err)
	}

	return Reading{CPUPercent: cpuPercent[0], MemoryPercent: vm.UsedPercent}, nil
}
