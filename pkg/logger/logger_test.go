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

package logger_test

import (
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/united-manufacturing-hub/daq-core/pkg/logger"
)

var _ = Describe("PrettyConsoleEncoder", func() {
	var enc zapcore.Encoder

	BeforeEach(func() {
		enc = logger.NewPrettyConsoleEncoder(zapcore.EncoderConfig{
			LevelKey:   "level",
			NameKey:    "component",
			MessageKey: "msg",
			LineEnding: zapcore.DefaultLineEnding,
		})
	})

	It("renders level, component, message and fields", func() {
		buf, err := enc.EncodeEntry(zapcore.Entry{
			Level:      zapcore.WarnLevel,
			LoggerName: "Watchdog",
			Message:    "heartbeat missed",
			Time:       time.Now(),
		}, []zapcore.Field{zap.Int("misses", 3), zap.String("worker", "recorder")})
		Expect(err).NotTo(HaveOccurred())

		Expect(buf.String()).To(Equal("[WARN]\t[Watchdog]\theartbeat missed - misses=3, worker=recorder\n"))
	})

	It("keeps fields added to a clone out of the original", func() {
		clone := enc.Clone()
		clone.AddString("session", "abc")

		buf, err := clone.EncodeEntry(zapcore.Entry{Level: zapcore.InfoLevel, Message: "started"}, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(buf.String()).To(ContainSubstring("started - session=abc"))

		buf, err = enc.EncodeEntry(zapcore.Entry{Level: zapcore.InfoLevel, Message: "started"}, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(buf.String()).To(Equal("[INFO]\tstarted\n"))
	})

	It("renders errors through their message", func() {
		buf, err := enc.EncodeEntry(zapcore.Entry{Level: zapcore.ErrorLevel, Message: "step failed"},
			[]zapcore.Field{zap.Error(errors.New("port closed"))})
		Expect(err).NotTo(HaveOccurred())
		Expect(buf.String()).To(ContainSubstring("error=port closed"))
	})
})

var _ = Describe("For", func() {
	It("returns a named logger", func() {
		log := logger.For(logger.ComponentSupervisor)
		Expect(log).NotTo(BeNil())
		Expect(log.Desugar().Name()).To(Equal(logger.ComponentSupervisor))
	})
})
