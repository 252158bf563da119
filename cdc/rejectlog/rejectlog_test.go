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

package rejectlog

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRejectWritesJSONLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reject.log")

	logger, err := Open(path)
	require.NoError(t, err)

	logger.Reject(Entry{
		DocID:         "airline_10",
		IndexName:     "airlines",
		Reason:        "malformed payload: invalid JSON",
		OriginalEvent: []byte(`{"broken`),
	})
	require.NoError(t, logger.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NotEmpty(t, data)

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(data[:indexOfNewline(data)], &line))
	require.Equal(t, "airline_10", line["docId"])
	require.Equal(t, "airlines", line["indexName"])
}

func TestNopLoggerDiscardsWithoutError(t *testing.T) {
	NopLogger.Reject(Entry{DocID: "x"})
	require.NoError(t, NopLogger.Close())
}

func indexOfNewline(b []byte) int {
	for i, c := range b {
		if c == '\n' {
			return i
		}
	}
	return len(b)
}
