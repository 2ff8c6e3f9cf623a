/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package logger provides JSON structured logging using zerolog, behind a
// small interface so components depend on a contract rather than a global.
package logger

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Config controls the process-wide default logger.
type Config struct {
	Level  string `json:"level" yaml:"level"`
	Debug  bool   `json:"debug" yaml:"debug"`
	Output string `json:"output" yaml:"output"`
}

// Logger is the interface every component depends on for structured
// logging; zerologLogger is its implementation, and NewTestLogger returns
// one that discards all output.
type Logger interface {
	Trace() *zerolog.Event
	Debug() *zerolog.Event
	Info() *zerolog.Event
	Warn() *zerolog.Event
	Error() *zerolog.Event
	Fatal() *zerolog.Event
	Panic() *zerolog.Event
	With() zerolog.Context
	WithComponent(component string) Logger
}

type zerologLogger struct {
	z zerolog.Logger
}

// New builds a Logger backed by zerolog, writing structured JSON to stdout
// (or stderr, if cfg.Output == "stderr").
func New(cfg *Config) Logger {
	var output = os.Stdout

	level := zerolog.InfoLevel

	if cfg != nil {
		if cfg.Output == "stderr" {
			output = os.Stderr
		}

		if cfg.Debug {
			level = zerolog.DebugLevel
		} else if cfg.Level != "" {
			if parsed, err := zerolog.ParseLevel(cfg.Level); err == nil {
				level = parsed
			}
		}
	}

	zerolog.TimeFieldFormat = time.RFC3339

	return &zerologLogger{z: zerolog.New(output).Level(level).With().Timestamp().Logger()}
}

// Bootstrap returns a minimal logger suitable for use before configuration
// has been loaded (e.g. while reading the config file itself).
func Bootstrap() Logger {
	return &zerologLogger{z: zerolog.New(os.Stderr).Level(zerolog.WarnLevel).With().Timestamp().Logger()}
}

func (l *zerologLogger) Trace() *zerolog.Event { return l.z.Trace() }
func (l *zerologLogger) Debug() *zerolog.Event { return l.z.Debug() }
func (l *zerologLogger) Info() *zerolog.Event  { return l.z.Info() }
func (l *zerologLogger) Warn() *zerolog.Event  { return l.z.Warn() }
func (l *zerologLogger) Error() *zerolog.Event { return l.z.Error() }
func (l *zerologLogger) Fatal() *zerolog.Event { return l.z.Fatal() }
func (l *zerologLogger) Panic() *zerolog.Event { return l.z.Panic() }
func (l *zerologLogger) With() zerolog.Context { return l.z.With() }

func (l *zerologLogger) WithComponent(component string) Logger {
	return &zerologLogger{z: l.z.With().Str("component", component).Logger()}
}
