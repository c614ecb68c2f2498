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

package constants

const (
	// DefaultAppVersion is reported when the binary was built without ldflags.
	DefaultAppVersion = "0.0.0-dev"

	DefaultDevelopmentEnvironment = "development"
	DefaultProductionEnvironment  = "production"

	// DefaultConfigPath is the location of the session configuration.
	DefaultConfigPath = "/data/daq.yaml"

	// DefaultDataFolder is where recordings are written.
	DefaultDataFolder = "/data/recordings"

	DefaultMetricsPort = 8080
	DefaultStatusPort  = 8081
)

const (
	// DefaultVendorID and DefaultProductID identify the instrument on the USB bus.
	DefaultVendorID  = "2E8A"
	DefaultProductID = "0009"

	// DefaultBaudRate of the instrument's serial link.
	DefaultBaudRate = 115200

	// DefaultSamplingRate in Hz.
	DefaultSamplingRate = 1000

	// MaxSamplingRate accepted by the instrument, in Hz.
	MaxSamplingRate = 10_000

	// DefaultChannels is the number of analog channels per frame.
	DefaultChannels = 2

	// AutoPort selects the serial port by USB vendor and product id.
	AutoPort = "AUTO"
)
