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

// Package version holds the build version set through ldflags:
//
//	go build -ldflags "-X github.com/united-manufacturing-hub/daq-core/pkg/version.AppVersion=1.2.3"
package version

import "github.com/united-manufacturing-hub/daq-core/pkg/constants"

// AppVersion is overwritten at build time.
var AppVersion = constants.DefaultAppVersion

// GetAppVersion returns the build version.
func GetAppVersion() string {
	return AppVersion
}
