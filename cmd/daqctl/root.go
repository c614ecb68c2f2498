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

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/daq-core/pkg/config"
	"github.com/united-manufacturing-hub/daq-core/pkg/constants"
	"github.com/united-manufacturing-hub/daq-core/pkg/device"
	"github.com/united-manufacturing-hub/daq-core/pkg/frame"
	"github.com/united-manufacturing-hub/daq-core/pkg/logger"
	"github.com/united-manufacturing-hub/daq-core/pkg/serial"
	"github.com/united-manufacturing-hub/daq-core/pkg/supervisor"
)

var rootCmd = &cobra.Command{
	Use:   "daqctl",
	Short: "daqctl controls the acquisition instrument and records sessions",
	Long: `daqctl talks to the acquisition instrument over USB serial, runs supervised
acquisition sessions and inspects the recordings they produce.`,
	SilenceUsage: true,
	PersistentPreRun: func(*cobra.Command, []string) {
		logger.Initialize()
	},
	PersistentPostRun: func(*cobra.Command, []string) {
		_ = logger.Sync()
	},
}

// Execute runs the command line.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("config", constants.DefaultConfigPath, "Path to the configuration file")
	rootCmd.PersistentFlags().Bool("mock", false, "Use a simulated instrument instead of the serial port")
}

func loadConfig(cmd *cobra.Command, log *zap.SugaredLogger) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")

	return config.LoadWithEnvOverrides(path, log)
}

// session is an open device and everything that must be closed with it.
type session struct {
	dev   *device.Device
	sup   *supervisor.Supervisor
	close func() error
}

func openDevice(ctx context.Context, cmd *cobra.Command, cfg config.Config, log *zap.SugaredLogger) (*session, error) {
	mock, _ := cmd.Flags().GetBool("mock")
	layout := frame.Layout{Channels: cfg.Device.Channels}
	sup := supervisor.New(cfg.SupervisorOptions()...)
	opts := []device.Option{
		device.WithLayout(layout),
		device.WithResetSettle(cfg.Session.ResetSettle),
		device.WithSamplingRate(cfg.Device.SamplingRate),
	}

	if mock {
		inst := device.NewInstrument(layout)

		ch, err := serial.NewChannel(inst.Port(), "mock", cfg.Device.ReadTimeout)
		if err != nil {
			return nil, err
		}

		log.Infof("using a simulated instrument")

		return &session{dev: device.New(ch, sup, opts...), sup: sup, close: inst.Close}, nil
	}

	ch, err := serial.Open(ctx, cfg.Serial(), logger.For(logger.ComponentSerial))
	if err != nil {
		return nil, err
	}

	return &session{dev: device.New(ch, sup, opts...), sup: sup, close: ch.Close}, nil
}
