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
	"os"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/daq-core/pkg/constants"
)

// EnvDSN holds the Sentry DSN. Reporting is disabled when it is empty.
const EnvDSN = "SENTRY_DSN"

// InitSentry configures the Sentry client. Development builds and builds
// without a DSN only log locally.
func InitSentry(appVersion string, debounce bool) {
	setDebounce(debounce)

	dsn := os.Getenv(EnvDSN)
	if appVersion == "" || appVersion == constants.DefaultAppVersion || dsn == "" {
		zap.S().Debug("Sentry disabled for local development build")

		return
	}

	environment := constants.DefaultDevelopmentEnvironment

	version, err := semver.NewVersion(appVersion)
	if err != nil {
		zap.S().Errorf("Failed to parse app version, using default environment (development): %s", err)
	} else if version.Prerelease() == "" {
		environment = constants.DefaultProductionEnvironment
	}

	err = sentry.Init(sentry.ClientOptions{
		Dsn:         dsn,
		Environment: environment,
		Release:     "daq-core@" + appVersion,
	})
	if err != nil {
		zap.S().Errorf("Failed to initialize Sentry: %s", err)
	}
}

// title shortens an error message to its first clause for grouping.
func title(err error) string {
	message := err.Error()
	if idx := strings.IndexAny(message, ".,:"); idx > 0 {
		message = message[:idx]
	}

	if len(message) > 100 {
		message = message[:97] + "..."
	}

	return message
}

func newEvent(level sentry.Level, err error, context map[string]interface{}) *sentry.Event {
	event := sentry.NewEvent()
	event.Level = level
	event.Message = err.Error()
	event.Exception = []sentry.Exception{{
		Type:       title(err),
		Value:      err.Error(),
		Stacktrace: sentry.ExtractStacktrace(err),
	}}
	event.Fingerprint = []string{"{{ default }}", "level: " + string(level)}

	for key, value := range context {
		switch v := value.(type) {
		case string:
			event.Tags[key] = v
		case int, int64, uint64, float64, bool:
			event.Tags[key] = fmt.Sprintf("%v", v)
		default:
			event.Extra[key] = v
		}

		if key == "operation" || key == "worker" {
			event.Fingerprint = append(event.Fingerprint, fmt.Sprintf("%s: %v", key, value))
		}
	}

	return event
}

func send(event *sentry.Event) {
	sentry.CurrentHub().Clone().CaptureEvent(event)
}
