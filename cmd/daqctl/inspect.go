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
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/united-manufacturing-hub/daq-core/pkg/store"
	"github.com/united-manufacturing-hub/daq-core/pkg/version"
)

type recordingSummary struct {
	File         string    `yaml:"file"`
	Stream       string    `yaml:"stream"`
	Type         string    `yaml:"type"`
	SamplingRate float64   `yaml:"samplingRate"`
	ChannelCount int       `yaml:"channelCount"`
	DataFormat   string    `yaml:"dataFormat"`
	CreationDate time.Time `yaml:"creationDate"`
	Rows         int       `yaml:"rows"`
	Duration     float64   `yaml:"durationSeconds"`
}

var inspectCmd = &cobra.Command{
	Use:   "inspect <file>...",
	Short: "Print the metadata and size of recordings",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		summaries := make([]recordingSummary, 0, len(args))

		for _, path := range args {
			rec, err := store.ReadRecording(path)
			if err != nil {
				return err
			}

			s := recordingSummary{
				File:         path,
				Stream:       rec.Stream,
				Type:         rec.Type,
				SamplingRate: rec.SamplingRate,
				ChannelCount: rec.ChannelCount,
				DataFormat:   rec.DataFormat,
				CreationDate: rec.CreationDate,
				Rows:         len(rec.Time),
			}
			if n := len(rec.Time); n > 0 {
				s.Duration = rec.Time[n-1] - rec.Time[0]
			}

			summaries = append(summaries, s)
		}

		out, err := yaml.Marshal(summaries)
		if err != nil {
			return err
		}

		_, err = cmd.OutOrStdout().Write(out)

		return err
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version of daqctl",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "daqctl version %s\n", version.GetAppVersion())
	},
}

func init() {
	rootCmd.AddCommand(inspectCmd, versionCmd)
}
