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

package esclient

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/couchbase/cbes/cdc/model"
)

func TestBulkClassifiesItemOutcomes(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/_bulk", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"took":   5,
			"errors": true,
			"items": []map[string]interface{}{
				{"index": map[string]interface{}{"status": 201}},
				{"index": map[string]interface{}{"status": 409}},
				{"index": map[string]interface{}{"status": 429}},
				{"delete": map[string]interface{}{"status": 404}},
				{"index": map[string]interface{}{"status": 400, "error": map[string]interface{}{"type": "mapper_parsing_exception", "reason": "bad field"}}},
			},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, "", "", nil)
	reqs := []model.IndexRequest{
		model.Upsert{IndexName: "i", DocID: "1", Body: []byte(`{}`)},
		model.Upsert{IndexName: "i", DocID: "2", Body: []byte(`{}`)},
		model.Upsert{IndexName: "i", DocID: "3", Body: []byte(`{}`)},
		model.Delete{IndexName: "i", DocID: "4"},
		model.Upsert{IndexName: "i", DocID: "5", Body: []byte(`{}`)},
	}

	results, err := c.Bulk(context.Background(), reqs)
	require.NoError(t, err)
	require.Len(t, results, 5)
	require.Equal(t, OutcomeSuccess, results[0].Outcome)
	require.Equal(t, OutcomeVersionConflict, results[1].Outcome)
	require.Equal(t, OutcomeRetryable, results[2].Outcome)
	require.Equal(t, OutcomeSuccess, results[3].Outcome)
	require.Equal(t, OutcomeRejected, results[4].Outcome)
}

func TestBulkEncodesExternalVersionForLastWriterWins(t *testing.T) {
	t.Parallel()

	var sawLines []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		for _, line := range strings.Split(strings.TrimRight(string(body), "\n"), "\n") {
			sawLines = append(sawLines, line)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"took":   1,
			"errors": false,
			"items": []map[string]interface{}{
				{"index": map[string]interface{}{"status": 201}},
				{"delete": map[string]interface{}{"status": 200}},
			},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, "", "", nil)
	reqs := []model.IndexRequest{
		model.Upsert{IndexName: "i", DocID: "1", Version: 42, Body: []byte(`{"a":1}`)},
		model.Delete{IndexName: "i", DocID: "2", Version: 43},
	}

	_, err := c.Bulk(context.Background(), reqs)
	require.NoError(t, err)
	require.Len(t, sawLines, 3)

	var upsertMeta map[string]map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(sawLines[0]), &upsertMeta))
	require.Equal(t, float64(42), upsertMeta["index"]["version"])
	require.Equal(t, "external", upsertMeta["index"]["version_type"])

	var deleteMeta map[string]map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(sawLines[2]), &deleteMeta))
	require.Equal(t, float64(43), deleteMeta["delete"]["version"])
	require.Equal(t, "external", deleteMeta["delete"]["version_type"])
}

func TestBulkWithNoRequestsIsNoop(t *testing.T) {
	t.Parallel()

	c := New("http://localhost:1", "", "", nil)
	results, err := c.Bulk(context.Background(), nil)
	require.NoError(t, err)
	require.Nil(t, results)
}

func TestBulkMarksEverythingRetryableOnConnectionFailure(t *testing.T) {
	t.Parallel()

	c := New("http://127.0.0.1:1", "", "", &http.Client{})
	reqs := []model.IndexRequest{model.Upsert{IndexName: "i", DocID: "1", Body: []byte(`{}`)}}

	results, err := c.Bulk(context.Background(), reqs)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, OutcomeRetryable, results[0].Outcome)
}

func TestBulkServerErrorStatusMarksRetryable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New(srv.URL, "", "", nil)
	reqs := []model.IndexRequest{model.Upsert{IndexName: "i", DocID: "1", Body: []byte(`{}`)}}

	results, err := c.Bulk(context.Background(), reqs)
	require.NoError(t, err)
	require.Equal(t, OutcomeRetryable, results[0].Outcome)
}
