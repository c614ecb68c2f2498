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
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/united-manufacturing-hub/daq-core/pkg/sentry"
)

var (
	// ErrNoWorkers is returned by Start when no worker was registered.
	ErrNoWorkers = errors.New("cannot start session: no workers registered")

	// ErrAlreadyRunning is returned by Register and Start while a session runs.
	ErrAlreadyRunning = errors.New("session is already running")

	// ErrDuplicateWorker is returned when a worker name is registered twice.
	ErrDuplicateWorker = errors.New("worker already registered")

	// ErrStartupFault is wrapped around a fault raised during the settle delay.
	ErrStartupFault = errors.New("worker faulted during startup")
)

// WorkerFault is a failure or panic inside one unit of work of a worker.
// Session is the id of the session the worker ran in.
type WorkerFault struct {
	Session uuid.UUID
	Worker  string
	Err     error
	At      time.Time
	// Threads holds the parsed goroutine dump taken when a step panicked.
	Threads []sentry.Thread
}

func (f *WorkerFault) Error() string {
	return fmt.Sprintf("worker %s: %s", f.Worker, f.Err)
}

func (f *WorkerFault) Unwrap() error {
	return f.Err
}

// PanicError is a panic recovered from a step. Stack is the dump of the
// panicking goroutine.
type PanicError struct {
	Value interface{}
	Stack []byte
}

func (p *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", p.Value)
}

// RuntimeFault reports a session the watchdog declared unhealthy.
// Stalled lists the workers that missed the last heartbeat poll.
type RuntimeFault struct {
	Stalled []string
	Misses  int
}

func (f *RuntimeFault) Error() string {
	if len(f.Stalled) == 0 {
		return "session is not running"
	}

	return fmt.Sprintf("session unhealthy: no heartbeat from [%s] for %d polls", strings.Join(f.Stalled, ", "), f.Misses)
}

// JoinTimeout is returned by Stop for a task that did not exit within the
// join timeout. The session is stopped regardless.
type JoinTimeout struct {
	Task  string
	After time.Duration
}

func (j *JoinTimeout) Error() string {
	return fmt.Sprintf("task %s did not exit within %s", j.Task, j.After)
}

// IsWorkerFault reports whether err carries a WorkerFault.
func IsWorkerFault(err error) bool {
	var wf *WorkerFault

	return errors.As(err, &wf)
}

// IsRuntimeFault reports whether err carries a RuntimeFault.
func IsRuntimeFault(err error) bool {
	var rf *RuntimeFault

	return errors.As(err, &rf)
}

// IsJoinTimeout reports whether err carries a JoinTimeout.
func IsJoinTimeout(err error) bool {
	var jt *JoinTimeout

	return errors.As(err, &jt)
}
