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
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/united-manufacturing-hub/daq-core/pkg/device"
	"github.com/united-manufacturing-hub/daq-core/pkg/logger"
)

// withDevice opens the device for the duration of fn.
func withDevice(fn func(cmd *cobra.Command, dev *device.Device, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		log := logger.For(logger.ComponentCLI)

		cfg, err := loadConfig(cmd, log)
		if err != nil {
			return err
		}

		sess, err := openDevice(cmd.Context(), cmd, cfg, log)
		if err != nil {
			return err
		}
		defer func() { _ = sess.close() }()

		return fn(cmd, sess.dev, args)
	}
}

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Print the instrument state",
	Args:  cobra.NoArgs,
	RunE: withDevice(func(cmd *cobra.Command, dev *device.Device, _ []string) error {
		st, err := dev.State()
		if err != nil {
			return err
		}

		out, err := yaml.Marshal(st)
		if err != nil {
			return err
		}

		_, err = cmd.OutOrStdout().Write(out)

		return err
	}),
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset the instrument and wait for it to come back",
	Args:  cobra.NoArgs,
	RunE: withDevice(func(cmd *cobra.Command, dev *device.Device, _ []string) error {
		return dev.Reset(cmd.Context())
	}),
}

var ledCmd = &cobra.Command{
	Use:       "led on|off|toggle",
	Short:     "Switch the user LED",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{device.LEDOn, device.LEDOff, device.LEDToggle},
	RunE: withDevice(func(_ *cobra.Command, dev *device.Device, args []string) error {
		return dev.SetLED(args[0])
	}),
}

var rateCmd = &cobra.Command{
	Use:   "rate <hz>",
	Short: "Set the sampling rate",
	Args:  cobra.ExactArgs(1),
	RunE: withDevice(func(_ *cobra.Command, dev *device.Device, args []string) error {
		hz, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return fmt.Errorf("sampling rate %q: %w", args[0], err)
		}

		return dev.SetSamplingRate(hz)
	}),
}

var echoCmd = &cobra.Command{
	Use:   "echo <text>",
	Short: "Send text to the instrument and print the echo",
	Args:  cobra.ExactArgs(1),
	RunE: withDevice(func(cmd *cobra.Command, dev *device.Device, args []string) error {
		echoed, err := dev.Echo(args[0])
		if err != nil {
			return err
		}

		_, err = fmt.Fprintln(cmd.OutOrStdout(), echoed)

		return err
	}),
}

func init() {
	rootCmd.AddCommand(stateCmd, resetCmd, ledCmd, rateCmd, echoCmd)
}
