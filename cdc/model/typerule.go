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

package model

import "strings"

// DocStructure selects how a source document body is wrapped before it is
// indexed (spec §6, [elasticsearch].docStructure).
type DocStructure string

const (
	// DocStructureJustBody indexes the document body verbatim.
	DocStructureJustBody DocStructure = "JustBody"
	// DocStructureAutoNested wraps the body under a "doc" field alongside
	// connector-managed metadata.
	DocStructureAutoNested DocStructure = "AutoNested"
)

// TypeRule maps a key pattern to the index it should be replicated to and
// how the event should be transformed into an IndexRequest (spec §3,
// RequestFactory).
type TypeRule struct {
	// KeyPattern is a glob-like pattern matched against document keys: "*"
	// matches any run of characters, everything else is literal.
	KeyPattern string

	IndexName     string
	Routing       string
	Pipeline      string
	Ignore        bool
	IgnoreDeletes bool
	DocIDFormat   string
	TypeName      string
	DocStructure  DocStructure
}

// Matches reports whether key satisfies the rule's KeyPattern.
func (r TypeRule) Matches(key string) bool {
	return matchGlob(r.KeyPattern, key)
}

// matchGlob implements the single-wildcard "*" matching the original
// connector's TypeConfig uses for key routing: "*" may appear any number of
// times and matches any run of characters, all other runes match literally.
func matchGlob(pattern, s string) bool {
	parts := strings.Split(pattern, "*")
	if len(parts) == 1 {
		return pattern == s
	}

	if !strings.HasPrefix(s, parts[0]) {
		return false
	}
	s = s[len(parts[0]):]

	last := len(parts) - 1
	for i := 1; i < last; i++ {
		part := parts[i]
		if part == "" {
			continue
		}
		idx := strings.Index(s, part)
		if idx < 0 {
			return false
		}
		s = s[idx+len(part):]
	}

	return strings.HasSuffix(s, parts[last])
}
