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

package sentry

import (
	"fmt"

	"go.uber.org/zap"
)

// IssueType is the severity of a reported issue.
type IssueType string

const (
	IssueTypeWarning IssueType = "warning"
	IssueTypeError   IssueType = "error"
	// IssueTypeFatal panics through the logger after the event was flushed.
	IssueTypeFatal IssueType = "fatal"
)

// ReportIssue logs err and forwards it to Sentry.
func ReportIssue(err error, issueType IssueType, log *zap.SugaredLogger) {
	ReportIssueWithContext(err, issueType, log, nil)
}

// ReportIssuef formats an error and reports it.
func ReportIssuef(issueType IssueType, log *zap.SugaredLogger, template string, args ...interface{}) {
	ReportIssue(fmt.Errorf(template, args...), issueType, log)
}

// ReportIssueWithContext reports err with tags for filtering in Sentry.
func ReportIssueWithContext(err error, issueType IssueType, log *zap.SugaredLogger, context map[string]interface{}) {
	if err == nil {
		return
	}

	if log == nil {
		log = zap.NewNop().Sugar()
	}

	switch issueType {
	case IssueTypeFatal:
		reportFatal(err, log, context)
	case IssueTypeError:
		report(levelError, err, log, context, nil)
	case IssueTypeWarning:
		report(levelWarning, err, log, context, nil)
	}
}

// ReportWorkerFault reports a fault raised by a worker of an acquisition
// session. threads is the stack of a panicking step, if any.
func ReportWorkerFault(log *zap.SugaredLogger, sessionID string, worker string, err error, threads []Thread) {
	if err == nil {
		return
	}

	if log == nil {
		log = zap.NewNop().Sugar()
	}

	report(levelError, err, log, map[string]interface{}{
		"session_id": sessionID,
		"worker":     worker,
		"operation":  "step",
	}, threads)
}

// ReportWatchdogVerdict reports that a session was declared unhealthy. The
// event carries the goroutines running funcs, so it shows where the stalled
// workers are blocked.
func ReportWatchdogVerdict(log *zap.SugaredLogger, sessionID string, stalled []string, misses int, funcs ...string) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	threads, err := GoroutineThreads(funcs...)
	if err != nil {
		log.Debugf("parsing goroutine dump: %s", err)
	}

	report(levelWarning, fmt.Errorf("session unhealthy: %v missed %d heartbeat polls", stalled, misses), log,
		map[string]interface{}{
			"session_id": sessionID,
			"operation":  "watchdog",
			"misses":     misses,
		}, threads)
}
