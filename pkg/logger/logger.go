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
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel represents the logging level.
type LogLevel string

// LogFormat represents the logging format.
type LogFormat string

const (
	DebugLevel LogLevel = "DEBUG"
	InfoLevel  LogLevel = "INFO"
	WarnLevel  LogLevel = "WARN"
	ErrorLevel LogLevel = "ERROR"
	// ProductionLevel is an alias for InfoLevel, used for easier configuration.
	ProductionLevel LogLevel = "PRODUCTION"

	// FormatConsole indicates human-readable console format.
	FormatConsole LogFormat = "CONSOLE"
	// FormatJSON indicates structured JSON format.
	FormatJSON LogFormat = "JSON"
	// FormatPretty is the bracketed format used on an operator terminal.
	FormatPretty LogFormat = "PRETTY"
)

const (
	envLevel  = "LOGGING_LEVEL"
	envFormat = "LOGGING_FORMAT"
)

var (
	initOnce    sync.Once
	initialized bool
)

func parseLevel(level LogLevel) zapcore.Level {
	switch LogLevel(strings.ToUpper(string(level))) {
	case DebugLevel:
		return zapcore.DebugLevel
	case WarnLevel:
		return zapcore.WarnLevel
	case ErrorLevel:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// parseFormat falls back to def for anything it does not recognise.
func parseFormat(raw string, def LogFormat) LogFormat {
	switch f := LogFormat(strings.ToUpper(raw)); f {
	case FormatConsole, FormatJSON, FormatPretty:
		return f
	default:
		return def
	}
}

func timeEncoder(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.Format("2006-01-02 15:04:05.000 MST"))
}

// New creates a zap logger writing to stdout.
func New(logLevel string, logFormat LogFormat) *zap.Logger {
	cfg := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "component",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var encoder zapcore.Encoder

	switch logFormat {
	case FormatPretty:
		cfg.EncodeLevel = zapcore.CapitalLevelEncoder
		cfg.EncodeTime = timeEncoder
		encoder = NewPrettyConsoleEncoder(cfg)
	case FormatConsole:
		cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		cfg.EncodeTime = timeEncoder
		cfg.ConsoleSeparator = " | "
		encoder = zapcore.NewConsoleEncoder(cfg)
	default:
		cfg.EncodeLevel = zapcore.CapitalLevelEncoder
		cfg.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder = zapcore.NewJSONEncoder(cfg)
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), zap.NewAtomicLevelAt(parseLevel(LogLevel(logLevel))))

	return zap.New(core, zap.AddCaller())
}

// Initialize builds the global logger from LOGGING_LEVEL and LOGGING_FORMAT
// and installs it with zap.ReplaceGlobals. Subsequent calls are no-ops.
func Initialize() {
	initOnce.Do(func() {
		level := os.Getenv(envLevel)
		if level == "" {
			level = string(ProductionLevel)
		}

		format := parseFormat(os.Getenv(envFormat), FormatPretty)
		log := New(level, format)
		log.Debug("Logger initialized", zap.String("level", level), zap.String("format", string(format)))

		zap.ReplaceGlobals(log)

		initialized = true
	})
}

// Sync flushes any buffered log entries.
func Sync() error {
	return zap.L().Sync()
}

// For returns the global sugared logger named after component.
func For(component string) *zap.SugaredLogger {
	if !initialized {
		Initialize()
	}

	return zap.S().Named(component)
}
