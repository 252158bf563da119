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

// Package requestfactory turns replication events into index requests
// (spec §4.4, component C4): it matches a document key against the
// configured type rules and renders the matched rule's docId format, or
// drops/rejects the event.
package requestfactory

import (
	"encoding/json"
	"strings"

	"github.com/pingcap/log"
	"go.uber.org/zap"

	"github.com/couchbase/cbes/cdc/model"
	"github.com/couchbase/cbes/cdc/rejectlog"
)

// Factory matches replication events against an ordered list of type rules
// and produces index requests, the way the original connector's
// RequestFactory/DocumentMapper pair do.
type Factory struct {
	rules     []model.TypeRule
	rejectLog *rejectlog.Logger
}

// New builds a Factory. rules are matched first-match-wins, in the order
// given (spec §3, TypeRule: "First-match-wins ordering"). If rejectLog is
// nil, malformed payloads are silently dropped rather than recorded.
func New(rules []model.TypeRule, rejectLog *rejectlog.Logger) *Factory {
	if rejectLog == nil {
		rejectLog = rejectlog.NopLogger
	}
	return &Factory{rules: rules, rejectLog: rejectLog}
}

// Make converts a replication event into an IndexRequest. The bool result
// is false when the event was intentionally dropped: no rule matched, the
// matched rule says ignore, a Deletion matched a rule with ignoreDeletes, or
// a SnapshotMarker (which never produces a request). A malformed JSON body
// is also dropped, after being recorded to the reject log — this is a
// rejected document, never a pipeline fault (spec §4.4, §7 class 2).
func (f *Factory) Make(ev model.ReplicationEvent) (model.IndexRequest, bool) {
	switch e := ev.(type) {
	case model.Mutation:
		return f.makeUpsert(e)
	case model.Deletion:
		return f.makeDelete(e)
	case model.SnapshotMarker:
		return nil, false
	default:
		return nil, false
	}
}

func (f *Factory) matchRule(key string) (model.TypeRule, bool) {
	for _, r := range f.rules {
		if r.Matches(key) {
			return r, true
		}
	}
	return model.TypeRule{}, false
}

func (f *Factory) makeUpsert(m model.Mutation) (model.IndexRequest, bool) {
	rule, ok := f.matchRule(m.Key)
	if !ok || rule.Ignore {
		return nil, false
	}

	if !json.Valid(m.Body) {
		f.rejectLog.Reject(rejectlog.Entry{
			DocID:         m.Key,
			IndexName:     rule.IndexName,
			Reason:        "malformed payload: body is not valid JSON",
			OriginalEvent: m.Body,
		})
		log.Warn("dropping document with malformed payload", zap.String("key", m.Key))
		return nil, false
	}

	return model.Upsert{
		IndexName: rule.IndexName,
		DocID:     renderDocID(rule, m.Key),
		Version:   model.SeqNo(m.RevSeqNo),
		Routing:   rule.Routing,
		Pipeline:  rule.Pipeline,
		Body:      wrapBody(rule, m),
		Partition: m.Partition,
		SeqNo:     m.SeqNo,
	}, true
}

func (f *Factory) makeDelete(d model.Deletion) (model.IndexRequest, bool) {
	rule, ok := f.matchRule(d.Key)
	if !ok || rule.Ignore || rule.IgnoreDeletes {
		return nil, false
	}

	return model.Delete{
		IndexName: rule.IndexName,
		DocID:     renderDocID(rule, d.Key),
		Version:   model.SeqNo(d.RevSeqNo),
		Routing:   rule.Routing,
		Partition: d.Partition,
		SeqNo:     d.SeqNo,
	}, true
}

// renderDocID renders rule.DocIDFormat by substituting "{key}" and
// "{typeName}" placeholders, defaulting to the bare key when no format is
// configured. The original connector's docIdFormat is a declarative string
// format, not a general template language, so a small placeholder
// substitution is all that's needed.
func renderDocID(rule model.TypeRule, key string) string {
	if rule.DocIDFormat == "" {
		return key
	}
	out := rule.DocIDFormat
	out = strings.ReplaceAll(out, "{key}", key)
	out = strings.ReplaceAll(out, "{typeName}", rule.TypeName)
	return out
}

// wrapBody applies the rule's DocStructure to the mutation body. JustBody
// indexes the document verbatim; AutoNested wraps it under "doc" alongside
// connector-managed metadata, mirroring the original connector's
// AutoNestedDocument wrapping (spec §6, [elasticsearch].docStructure).
func wrapBody(rule model.TypeRule, m model.Mutation) []byte {
	if rule.DocStructure != model.DocStructureAutoNested {
		return m.Body
	}

	wrapped := struct {
		Doc json.RawMessage `json:"doc"`
		Cas uint64          `json:"cas"`
	}{
		Doc: json.RawMessage(m.Body),
		Cas: m.Cas,
	}
	body, err := json.Marshal(wrapped)
	if err != nil {
		return m.Body
	}
	return body
}
