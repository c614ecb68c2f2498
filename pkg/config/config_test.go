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

package config_test

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/alicebob/miniredis/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/daq-core/pkg/bus"
	"github.com/united-manufacturing-hub/daq-core/pkg/config"
	"github.com/united-manufacturing-hub/daq-core/pkg/constants"
)

const sample = `
device:
  port: /dev/ttyACM0
  samplingRate: 2000
  readTimeout: 250ms
session:
  dataFolder: /tmp/recordings
  trackUtilization: true
  plotOutput: /tmp/live.png
  watchdogInterval: 1s
bus:
  kind: redis
  address: localhost:6379
statusPort: 9000
`

func writeConfig(content string) string {
	path := filepath.Join(GinkgoT().TempDir(), "daq.yaml")
	Expect(os.WriteFile(path, []byte(content), 0o600)).To(Succeed())

	return path
}

var _ = Describe("Config", func() {
	It("returns the defaults for a missing file", func() {
		cfg, err := config.Load(filepath.Join(GinkgoT().TempDir(), "missing.yaml"))
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg).To(Equal(config.Default()))
		Expect(cfg.Validate()).To(Succeed())
	})

	It("reads the file over the defaults", func() {
		cfg, err := config.Load(writeConfig(sample))
		Expect(err).NotTo(HaveOccurred())

		Expect(cfg.Device.Port).To(Equal("/dev/ttyACM0"))
		Expect(cfg.Device.SamplingRate).To(Equal(2000.0))
		Expect(cfg.Device.ReadTimeout).To(Equal(250 * time.Millisecond))
		Expect(cfg.Device.BaudRate).To(Equal(constants.DefaultBaudRate))
		Expect(cfg.Session.TrackUtilization).To(BeTrue())
		Expect(cfg.Session.WatchdogInterval).To(Equal(time.Second))
		Expect(cfg.Session.WatchdogThreshold).To(Equal(constants.WatchdogThreshold))
		Expect(cfg.Bus.Kind).To(Equal(config.BusRedis))
		Expect(cfg.StatusPort).To(Equal(9000))
		Expect(cfg.MetricsPort).To(Equal(constants.DefaultMetricsPort))
	})

	It("rejects malformed YAML", func() {
		_, err := config.Load(writeConfig("device: [\n"))
		Expect(err).To(HaveOccurred())
	})

	Describe("environment overrides", func() {
		It("take precedence over the file", func() {
			GinkgoT().Setenv(config.EnvPort, "/dev/ttyUSB1")
			GinkgoT().Setenv(config.EnvSamplingRate, "500")
			GinkgoT().Setenv(config.EnvBus, config.BusMemory)
			GinkgoT().Setenv(config.EnvMetricsPort, "9100")

			cfg, err := config.LoadWithEnvOverrides(writeConfig(sample), zap.NewNop().Sugar())
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Device.Port).To(Equal("/dev/ttyUSB1"))
			Expect(cfg.Device.SamplingRate).To(Equal(500.0))
			Expect(cfg.Bus.Kind).To(Equal(config.BusMemory))
			Expect(cfg.MetricsPort).To(Equal(9100))
		})

		It("keep the file value for an unparsable variable", func() {
			GinkgoT().Setenv(config.EnvSamplingRate, "fast")

			cfg, err := config.ApplyEnvOverrides(config.Default())
			Expect(err).To(HaveOccurred())
			Expect(cfg.Device.SamplingRate).To(Equal(float64(constants.DefaultSamplingRate)))
		})
	})

	DescribeTable("validation",
		func(mutate func(*config.Config)) {
			cfg := config.Default()
			mutate(&cfg)
			Expect(cfg.Validate()).NotTo(Succeed())
		},
		Entry("negative sampling rate", func(c *config.Config) { c.Device.SamplingRate = -1 }),
		Entry("sampling rate above the maximum", func(c *config.Config) { c.Device.SamplingRate = constants.MaxSamplingRate + 1 }),
		Entry("a single channel", func(c *config.Config) { c.Device.Channels = 1 }),
		Entry("join timeout below the read timeout", func(c *config.Config) { c.Session.JoinTimeout = c.Device.ReadTimeout / 2 }),
		Entry("unknown bus", func(c *config.Config) { c.Bus.Kind = "kafka" }),
		Entry("redis without address", func(c *config.Config) { c.Bus.Kind = config.BusRedis }),
		Entry("zero watchdog threshold", func(c *config.Config) { c.Session.WatchdogThreshold = 0 }),
	)

	It("maps AUTO to a port search", func() {
		cfg := config.Default()
		Expect(cfg.Serial().Port).To(BeEmpty())
		Expect(cfg.Serial().VendorID).To(Equal(constants.DefaultVendorID))

		cfg.Device.Port = "/dev/ttyACM0"
		Expect(cfg.Serial().Port).To(Equal("/dev/ttyACM0"))
	})

	It("opens the configured bus", func() {
		ctx := context.Background()

		b, err := config.BusConfig{Kind: config.BusMemory}.Open(ctx, zap.NewNop().Sugar())
		Expect(err).NotTo(HaveOccurred())
		Expect(b).To(BeAssignableToTypeOf(&bus.Memory{}))

		server := miniredis.RunT(GinkgoT())
		b, err = config.BusConfig{Kind: config.BusRedis, Address: server.Addr()}.Open(ctx, zap.NewNop().Sugar())
		Expect(err).NotTo(HaveOccurred())
		Expect(b.Close()).To(Succeed())
	})
})
