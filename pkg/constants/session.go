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

package constants

import "time"

const (
	// WatchdogInterval is the time between two heartbeat polls.
	WatchdogInterval = 2 * time.Second

	// WatchdogThreshold is the number of consecutive missed polls after which
	// the session is declared unhealthy.
	WatchdogThreshold = 5

	// SettleDelay is how long Start waits after launching the tasks before it
	// returns control to the caller.
	SettleDelay = 500 * time.Millisecond

	// JoinTimeout bounds the wait for each task when the session is stopped.
	// Workers block at most for their own read timeouts, so this must stay above
	// DefaultReadTimeout and DefaultPullTimeout.
	JoinTimeout = 3 * time.Second

	// FaultPollInterval is the cadence at which WaitSeconds checks for faults.
	FaultPollInterval = time.Second
)

const (
	// DefaultReadTimeout is the serial read timeout used by the frame source.
	DefaultReadTimeout = time.Second

	// DefaultPullTimeout is the maximum time a recorder blocks on an empty inlet.
	DefaultPullTimeout = 500 * time.Millisecond

	// DefaultPlotInterval is the redraw cadence of the plot renderer.
	DefaultPlotInterval = 200 * time.Millisecond

	// DefaultPlotWindow is the time span shown by the live plot.
	DefaultPlotWindow = 5 * time.Second

	// DefaultUtilizationRate is the utilization stream rate in Hz.
	DefaultUtilizationRate = 2

	// DefaultResetSettle is how long the instrument needs to come back after a reset.
	DefaultResetSettle = 4 * time.Second
)
