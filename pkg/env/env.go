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

// Package env reads typed overrides from the process environment.
// An unset variable yields the default; a set but unparsable one is an error
// so that a typo in a deployment never silently falls back.
package env

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

func lookup[T any](key string, def T, parse func(string) (T, error)) (T, error) {
	raw, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return def, nil
	}

	v, err := parse(strings.TrimSpace(raw))
	if err != nil {
		return def, fmt.Errorf("environment variable %s=%q: %w", key, raw, err)
	}

	return v, nil
}

// String returns the variable or def when unset.
func String(key, def string) string {
	v, _ := lookup(key, def, func(s string) (string, error) { return s, nil })

	return v
}

// Int parses the variable as a base-10 integer.
func Int(key string, def int) (int, error) {
	return lookup(key, def, strconv.Atoi)
}

// Float parses the variable as a float64.
func Float(key string, def float64) (float64, error) {
	return lookup(key, def, func(s string) (float64, error) { return strconv.ParseFloat(s, 64) })
}

// Bool accepts true/false, 1/0, yes/no and on/off.
func Bool(key string, def bool) (bool, error) {
	return lookup(key, def, func(s string) (bool, error) {
		switch strings.ToLower(s) {
		case "true", "1", "yes", "y", "on":
			return true, nil
		case "false", "0", "no", "n", "off":
			return false, nil
		}

		return false, fmt.Errorf("not a boolean")
	})
}

// Duration parses the variable with time.ParseDuration.
func Duration(key string, def time.Duration) (time.Duration, error) {
	return lookup(key, def, time.ParseDuration)
}
