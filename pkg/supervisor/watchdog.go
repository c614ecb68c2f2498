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
	"time"

	"github.com/united-manufacturing-hub/daq-core/pkg/metrics"
	"github.com/united-manufacturing-hub/daq-core/pkg/sentry"
)

// WatchdogName is the task name of the per-session watchdog.
const WatchdogName = "watchdog"

// workerLoopFunc selects the worker goroutines in a goroutine dump.
const workerLoopFunc = "supervisor.(*Supervisor).runWorker"

// runWatchdog polls the heartbeat matrix every interval until the session
// signal is cleared. After threshold consecutive incomplete polls the session
// is marked unhealthy; the watchdog then idles until the session is stopped.
func (s *Supervisor) runWatchdog(ctx context.Context, sess *session) {
	defer sess.watchdog.exit()
	defer func() {
		if r := recover(); r != nil {
			err := panicError(r)
			s.faults.Push(&WorkerFault{Session: sess.id, Worker: WatchdogName, Err: err, At: time.Now(), Threads: s.threadsOf(err)})
		}
	}()

	ticker := time.NewTicker(s.opts.watchdogInterval)
	defer ticker.Stop()

	s.log.Debugf("[%s] watchdog polling every %s, threshold %d", sess.id, s.opts.watchdogInterval, s.opts.threshold)

	for sess.signal.Load() {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if !sess.healthy.Load() {
			continue
		}

		misses, missing := sess.beats.poll()
		if len(missing) == 0 {
			continue
		}

		metrics.IncMissedPoll()

		stalled := s.workerNames(sess, missing)
		s.log.Warnf("[%s] missed heartbeat poll %d/%d: %v", sess.id, misses, s.opts.threshold, stalled)

		if misses >= s.opts.threshold {
			sess.healthy.Store(false)
			metrics.SetSessionHealthy(false)
			sentry.ReportWatchdogVerdict(s.log, sess.id.String(), stalled, misses, workerLoopFunc)
		}
	}
}
