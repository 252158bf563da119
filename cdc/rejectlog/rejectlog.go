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

// Package rejectlog records documents the connector could not index:
// malformed payloads and permanently rejected bulk items (spec §4.4, §6). Entries are appended as JSON lines to
// a dedicated, independently-rotatable zap sink, the way the teacher keeps
// its audit-style logs separate from the main application log.
package rejectlog

import (
	"time"

	"go.uber.org/zap"

	"github.com/couchbase/cbes/pkg/logutil"
)

// Entry is one reject-log record.
type Entry struct {
	Timestamp     time.Time
	DocID         string
	IndexName     string
	Reason        string
	OriginalEvent []byte
}

// Logger appends Entry records to a rotating JSON-lines file.
type Logger struct {
	zl *zap.Logger
}

// Open builds a Logger writing to path, rotated the way the teacher rotates
// its main log file (pkg/logutil).
func Open(path string) (*Logger, error) {
	core, err := logutil.NewRejectLogCore(path)
	if err != nil {
		return nil, err
	}
	return &Logger{zl: zap.New(core)}, nil
}

// Reject appends an entry describing why a document could not be indexed.
func (l *Logger) Reject(e Entry) {
	if l == nil || l.zl == nil {
		return
	}
	fields := []zap.Field{
		zap.Time("timestamp", timeOrNow(e.Timestamp)),
		zap.String("docId", e.DocID),
		zap.String("indexName", e.IndexName),
		zap.String("reason", e.Reason),
	}
	if len(e.OriginalEvent) > 0 {
		fields = append(fields, zap.Binary("originalEvent", e.OriginalEvent))
	}
	l.zl.Info("rejected", fields...)
}

// Close flushes buffered entries to the underlying file. It does not close
// the file handle.
func (l *Logger) Close() error {
	if l == nil || l.zl == nil {
		return nil
	}
	return l.zl.Sync()
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}

// NopLogger is a Logger that discards everything, used when
// [elasticsearch].rejectLog is not configured.
var NopLogger = &Logger{zl: zap.NewNop()}
