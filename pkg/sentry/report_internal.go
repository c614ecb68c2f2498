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
	"runtime/debug"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"
)

const (
	levelWarning = sentry.LevelWarning
	levelError   = sentry.LevelError

	debounceWindow = 2 * time.Hour
)

var (
	debounceMu sync.Mutex
	debounceOn = true
	// lastSent maps level+title to the time the event was last sent.
	lastSent = map[string]time.Time{}
)

func setDebounce(on bool) {
	debounceMu.Lock()
	defer debounceMu.Unlock()

	debounceOn = on
	lastSent = map[string]time.Time{}
}

// shouldSend reports whether an event with this key may be sent now.
func shouldSend(key string) bool {
	debounceMu.Lock()
	defer debounceMu.Unlock()

	if !debounceOn {
		return true
	}

	if last, ok := lastSent[key]; ok && time.Since(last) < debounceWindow {
		return false
	}

	lastSent[key] = time.Now()

	return true
}

func report(level sentry.Level, err error, log *zap.SugaredLogger, context map[string]interface{}, threads []Thread) {
	if level == levelWarning {
		log.Warnw(err.Error(), flatten(context)...)
	} else {
		log.Errorw(err.Error(), flatten(context)...)
	}

	if !shouldSend(string(level) + title(err)) {
		return
	}

	event := newEvent(level, err, context)
	event.Threads = threads

	send(event)
}

func reportFatal(err error, log *zap.SugaredLogger, context map[string]interface{}) {
	log.Errorw("fatal error, terminating", append(flatten(context), "error", err, "stack", string(debug.Stack()))...)

	send(newEvent(sentry.LevelFatal, err, context))
	sentry.Flush(5 * time.Second)

	log.Panic("Fatal error")
}

func flatten(context map[string]interface{}) []interface{} {
	kv := make([]interface{}, 0, len(context)*2)
	for k, v := range context {
		kv = append(kv, k, v)
	}

	return kv
}
