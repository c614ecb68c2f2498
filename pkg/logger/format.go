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

package logger

import (
	"fmt"
	"maps"
	"slices"

	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"
)

// PrettyConsoleEncoder renders entries as
//
//	[INFO]	[supervisor/supervisor.go:120]	[Supervisor]	session started - workers=3
//
// Fields attached through With are kept in the embedded map encoder and
// printed before the per-entry fields.
type PrettyConsoleEncoder struct {
	*zapcore.MapObjectEncoder

	cfg  zapcore.EncoderConfig
	pool buffer.Pool
}

// NewPrettyConsoleEncoder creates a new PrettyConsoleEncoder.
func NewPrettyConsoleEncoder(cfg zapcore.EncoderConfig) zapcore.Encoder {
	return &PrettyConsoleEncoder{
		MapObjectEncoder: zapcore.NewMapObjectEncoder(),
		cfg:              cfg,
		pool:             buffer.NewPool(),
	}
}

// Clone implements zapcore.Encoder.
func (e *PrettyConsoleEncoder) Clone() zapcore.Encoder {
	clone := zapcore.NewMapObjectEncoder()
	maps.Copy(clone.Fields, e.Fields)

	return &PrettyConsoleEncoder{
		MapObjectEncoder: clone,
		cfg:              e.cfg,
		pool:             e.pool,
	}
}

// EncodeEntry implements zapcore.Encoder.
func (e *PrettyConsoleEncoder) EncodeEntry(entry zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	line := e.pool.Get()

	if e.cfg.TimeKey != "" && !entry.Time.IsZero() {
		line.AppendString(entry.Time.Format("15:04:05.000"))
		line.AppendByte(' ')
	}

	line.AppendByte('[')
	line.AppendString(entry.Level.CapitalString())
	line.AppendString("]\t")

	if entry.Caller.Defined {
		line.AppendByte('[')
		line.AppendString(entry.Caller.TrimmedPath())
		line.AppendString("]\t")
	}

	if entry.LoggerName != "" {
		line.AppendByte('[')
		line.AppendString(entry.LoggerName)
		line.AppendString("]\t")
	}

	line.AppendString(entry.Message)

	first := true
	appendPair := func(key string, value interface{}) {
		if first {
			line.AppendString(" - ")

			first = false
		} else {
			line.AppendString(", ")
		}

		line.AppendString(key)
		line.AppendByte('=')
		line.AppendString(fmt.Sprintf("%v", value))
	}

	for _, key := range slices.Sorted(maps.Keys(e.Fields)) {
		appendPair(key, e.Fields[key])
	}

	entryFields := zapcore.NewMapObjectEncoder()
	for _, field := range fields {
		field.AddTo(entryFields)
		appendPair(field.Key, entryFields.Fields[field.Key])
	}

	if entry.Stack != "" && e.cfg.StacktraceKey != "" {
		line.AppendByte('\n')
		line.AppendString(entry.Stack)
	}

	line.AppendString(e.cfg.LineEnding)

	return line, nil
}
