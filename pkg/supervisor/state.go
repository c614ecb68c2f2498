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

package supervisor

import (
	"context"

	"github.com/looplab/fsm"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/daq-core/pkg/metrics"
)

// Session lifecycle states.
const (
	StateIdle    = "idle"
	StateRunning = "running"
	StateStopped = "stopped"
)

const (
	eventRearm = "rearm"
	eventStart = "start"
	eventStop  = "stop"
)

// newLifecycle builds the session state machine:
//
//	idle --start--> running --stop--> stopped --rearm--> idle
//
// Health is tracked separately; an unhealthy session stays running until
// it is stopped.
func newLifecycle(log *zap.SugaredLogger) *fsm.FSM {
	metrics.UpdateSessionState(StateIdle)

	return fsm.NewFSM(
		StateIdle,
		fsm.Events{
			{Name: eventStart, Src: []string{StateIdle}, Dst: StateRunning},
			{Name: eventStop, Src: []string{StateRunning}, Dst: StateStopped},
			{Name: eventRearm, Src: []string{StateStopped}, Dst: StateIdle},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				log.Debugf("session %s -> %s (%s)", e.Src, e.Dst, e.Event)
				metrics.UpdateSessionState(e.Dst)
			},
		},
	)
}
