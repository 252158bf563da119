// Copyright 2024 Couchbase, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

// Package logutil builds the process-wide logger. It mirrors the teacher's
// pkg/logutil: a thin Config struct decoded straight from the CLI/TOML layer,
// handed to pingcap/log which fronts zap.
package logutil

import (
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config describes how to build the process logger.
type Config struct {
	File           string
	Level          string
	FileMaxSize    int
	FileMaxDays    int
	FileMaxBackups int
}

// RedactionLevel controls how much of a document's key/body is logged.
type RedactionLevel string

// Redaction levels accepted by the [logging] redactionLevel config key.
const (
	RedactNone    RedactionLevel = "none"
	RedactPartial RedactionLevel = "partial"
	RedactFull    RedactionLevel = "full"
)

var currentRedactionLevel = RedactNone

// SetRedactionLevel sets the process-wide redaction level for logged document
// keys and bodies. It is not safe to call concurrently with logging calls
// that read it; it is intended to be set once at startup.
func SetRedactionLevel(level RedactionLevel) {
	currentRedactionLevel = level
}

// RedactKey renders a document key for logging according to the current
// redaction level.
func RedactKey(key string) string {
	switch currentRedactionLevel {
	case RedactFull:
		return "<redacted>"
	case RedactPartial:
		if len(key) <= 4 {
			return "<redacted>"
		}
		return key[:2] + "..." + key[len(key)-2:]
	default:
		return key
	}
}

// InitLogger builds and installs the global pingcap/log logger.
func InitLogger(cfg *Config) error {
	logCfg := &log.Config{
		Level: cfg.Level,
		File: log.FileLogConfig{
			Filename:   cfg.File,
			MaxSize:    cfg.FileMaxSize,
			MaxDays:    cfg.FileMaxDays,
			MaxBackups: cfg.FileMaxBackups,
		},
	}
	logger, props, err := log.InitLogger(logCfg)
	if err != nil {
		return errors.Trace(err)
	}
	log.ReplaceGlobals(logger, props)
	return nil
}

// NewRejectLogCore builds a dedicated, independently rotatable zapcore.Core
// for the reject log, separate from the main process logger (cdc/rejectlog).
func NewRejectLogCore(path string) (zapcore.Core, error) {
	cfg := &log.Config{File: log.FileLogConfig{Filename: path}}
	_, props, err := log.InitLogger(cfg)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return props.Core, nil
}

// WithComponent returns a child logger tagged with the given component name,
// the same convention the teacher uses for per-component loggers.
func WithComponent(name string) *zap.Logger {
	return log.L().With(zap.String("component", name))
}
