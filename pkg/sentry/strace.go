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
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/DataDog/gostackparse"
	"github.com/getsentry/sentry-go"
)

// Thread is a goroutine as attached to a Sentry event.
type Thread = sentry.Thread

// GoroutineThreads dumps every goroutine of the process and converts the
// ones that have a frame in one of funcs. No funcs keeps all of them.
func GoroutineThreads(funcs ...string) ([]Thread, error) {
	return ParseThreads(entireStack(), funcs...)
}

// ParseThreads converts a dump in runtime.Stack format into Sentry threads.
// Goroutines the parser gave up on are reported in the error; the ones it
// could read are still returned.
func ParseThreads(dump []byte, funcs ...string) ([]Thread, error) {
	goroutines, errs := gostackparse.Parse(bytes.NewReader(dump))

	threads := make([]Thread, 0, len(goroutines))

	for _, g := range goroutines {
		if len(funcs) > 0 && !hasFrame(g, funcs) {
			continue
		}

		threads = append(threads, toThread(g))
	}

	return threads, errors.Join(errs...)
}

func entireStack() []byte {
	buf := make([]byte, 1<<14)

	for {
		n := runtime.Stack(buf, true)
		if n < len(buf) {
			return buf[:n]
		}

		buf = make([]byte, 2*len(buf))
	}
}

func hasFrame(g *gostackparse.Goroutine, funcs []string) bool {
	for _, f := range g.Stack {
		for _, name := range funcs {
			if strings.Contains(f.Func, name) {
				return true
			}
		}
	}

	return false
}

func toThread(g *gostackparse.Goroutine) Thread {
	return Thread{
		ID:         strconv.Itoa(g.ID),
		Name:       fmt.Sprintf("goroutine %d [%s]", g.ID, g.State),
		Stacktrace: &sentry.Stacktrace{Frames: toFrames(g.Stack)},
	}
}

// toFrames returns the frames outermost first, the order Sentry expects.
func toFrames(stack []*gostackparse.Frame) []sentry.Frame {
	frames := make([]sentry.Frame, 0, len(stack))

	for i := len(stack) - 1; i >= 0; i-- {
		f := stack[i]
		frames = append(frames, sentry.Frame{
			Function: f.Func,
			Filename: filepath.Base(f.File),
			AbsPath:  f.File,
			Lineno:   f.Line,
			InApp:    !strings.HasPrefix(f.Func, "runtime"),
		})
	}

	return frames
}
