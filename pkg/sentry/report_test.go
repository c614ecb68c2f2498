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
	"errors"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

var _ = Describe("Reporting", func() {
	var (
		logs *observer.ObservedLogs
		log  *zap.SugaredLogger
	)

	BeforeEach(func() {
		var core zapcore.Core
		core, logs = observer.New(zapcore.DebugLevel)
		log = zap.New(core).Sugar()
		setDebounce(true)
	})

	It("logs every worker fault even when Sentry is debounced", func() {
		err := errors.New("serial read failed: timeout")
		ReportWorkerFault(log, "session-1", "publisher", err, nil)
		ReportWorkerFault(log, "session-1", "publisher", err, nil)

		Expect(logs.FilterMessage(err.Error()).Len()).To(Equal(2))
		entry := logs.All()[0]
		Expect(entry.Level).To(Equal(zapcore.ErrorLevel))
		Expect(entry.ContextMap()).To(HaveKeyWithValue("worker", "publisher"))
	})

	It("logs watchdog verdicts as warnings", func() {
		ReportWatchdogVerdict(log, "session-1", []string{"recorder"}, 5)
		Expect(logs.All()).To(HaveLen(1))
		Expect(logs.All()[0].Level).To(Equal(zapcore.WarnLevel))
		Expect(logs.All()[0].Message).To(ContainSubstring("recorder"))
	})

	It("ignores nil errors", func() {
		ReportIssue(nil, IssueTypeError, log)
		Expect(logs.Len()).To(BeZero())
	})

	It("tolerates a nil logger", func() {
		Expect(func() { ReportIssuef(IssueTypeWarning, nil, "x %d", 1) }).NotTo(Panic())
	})

	Describe("debouncing", func() {
		It("sends the same issue once per window", func() {
			Expect(shouldSend("error:boom")).To(BeTrue())
			Expect(shouldSend("error:boom")).To(BeFalse())
			Expect(shouldSend("error:other")).To(BeTrue())
		})

		It("sends everything when disabled", func() {
			setDebounce(false)
			Expect(shouldSend("error:boom")).To(BeTrue())
			Expect(shouldSend("error:boom")).To(BeTrue())
		})
	})

	Describe("title", func() {
		It("cuts at the first clause", func() {
			Expect(title(errors.New("worker fault: recorder: disk full"))).To(Equal("worker fault"))
		})

		It("limits the length", func() {
			t := title(errors.New(strings.Repeat("a", 200)))
			Expect(t).To(HaveLen(100))
			Expect(t).To(HaveSuffix("..."))
		})
	})

	It("tags events with string context and keeps the rest as extra", func() {
		event := newEvent(levelError, errors.New("boom"), map[string]interface{}{
			"worker":  "recorder",
			"misses":  5,
			"stalled": []string{"a"},
		})
		Expect(event.Tags).To(HaveKeyWithValue("worker", "recorder"))
		Expect(event.Tags).To(HaveKeyWithValue("misses", "5"))
		Expect(event.Extra).To(HaveKey("stalled"))
		Expect(event.Fingerprint).To(ContainElement("worker: recorder"))
	})
})
