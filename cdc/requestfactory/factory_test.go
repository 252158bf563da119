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

package requestfactory

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/couchbase/cbes/cdc/model"
)

func TestMakeUpsertProducesIndexRequest(t *testing.T) {
	t.Parallel()

	f := New([]model.TypeRule{
		{KeyPattern: "airline_*", IndexName: "airlines"},
	}, nil)

	req, ok := f.Make(model.Mutation{
		Key: "airline_10", Partition: 1, SeqNo: 5, RevSeqNo: 77, Body: []byte(`{"x":1}`),
	})
	require.True(t, ok)
	upsert, isUpsert := req.(model.Upsert)
	require.True(t, isUpsert)
	require.Equal(t, "airlines", upsert.IndexName)
	require.Equal(t, "airline_10", upsert.DocID)
	require.Equal(t, model.SeqNo(5), upsert.SeqNo)
	require.Equal(t, model.SeqNo(77), upsert.Version)
}

func TestMakeDropsEventWithNoMatchingRule(t *testing.T) {
	t.Parallel()

	f := New([]model.TypeRule{{KeyPattern: "airline_*", IndexName: "airlines"}}, nil)

	_, ok := f.Make(model.Mutation{Key: "route_10", Body: []byte(`{}`)})
	require.False(t, ok)
}

func TestMakeDropsIgnoredRule(t *testing.T) {
	t.Parallel()

	f := New([]model.TypeRule{{KeyPattern: "*", IndexName: "docs", Ignore: true}}, nil)

	_, ok := f.Make(model.Mutation{Key: "anything", Body: []byte(`{}`)})
	require.False(t, ok)
}

func TestMakeDropsIgnoredDeletes(t *testing.T) {
	t.Parallel()

	f := New([]model.TypeRule{{KeyPattern: "*", IndexName: "docs", IgnoreDeletes: true}}, nil)

	_, ok := f.Make(model.Deletion{Key: "anything"})
	require.False(t, ok)

	req, ok := f.Make(model.Mutation{Key: "anything", Body: []byte(`{}`)})
	require.True(t, ok)
	require.Equal(t, "docs", req.RequestIndexName())
}

func TestMakeDeleteProducesDeleteRequest(t *testing.T) {
	t.Parallel()

	f := New([]model.TypeRule{{KeyPattern: "*", IndexName: "docs"}}, nil)

	req, ok := f.Make(model.Deletion{Key: "k1", Partition: 2, SeqNo: 9, RevSeqNo: 31})
	require.True(t, ok)
	del, isDelete := req.(model.Delete)
	require.True(t, isDelete)
	require.Equal(t, "k1", del.DocID)
	require.Equal(t, model.SeqNo(9), del.SeqNo)
	require.Equal(t, model.SeqNo(31), del.Version)
}

func TestMakeRejectsMalformedPayload(t *testing.T) {
	t.Parallel()

	f := New([]model.TypeRule{{KeyPattern: "*", IndexName: "docs"}}, nil)

	_, ok := f.Make(model.Mutation{Key: "k1", Body: []byte(`{not json`)})
	require.False(t, ok)
}

func TestMakeDropsSnapshotMarker(t *testing.T) {
	t.Parallel()

	f := New(nil, nil)
	_, ok := f.Make(model.SnapshotMarker{Partition: 0, Start: 0, End: 10})
	require.False(t, ok)
}

func TestMakeFirstMatchWins(t *testing.T) {
	t.Parallel()

	f := New([]model.TypeRule{
		{KeyPattern: "airline_*", IndexName: "airlines-specific"},
		{KeyPattern: "*", IndexName: "catch-all"},
	}, nil)

	req, ok := f.Make(model.Mutation{Key: "airline_10", Body: []byte(`{}`)})
	require.True(t, ok)
	require.Equal(t, "airlines-specific", req.RequestIndexName())
}

func TestRenderDocIDUsesFormatTemplate(t *testing.T) {
	t.Parallel()

	f := New([]model.TypeRule{
		{KeyPattern: "*", IndexName: "docs", DocIDFormat: "doc::{key}", TypeName: "widget"},
	}, nil)

	req, ok := f.Make(model.Mutation{Key: "w1", Body: []byte(`{}`)})
	require.True(t, ok)
	require.Equal(t, "doc::w1", req.RequestDocID())
}

func TestMakeWrapsAutoNestedDocStructure(t *testing.T) {
	t.Parallel()

	f := New([]model.TypeRule{
		{KeyPattern: "*", IndexName: "docs", DocStructure: model.DocStructureAutoNested},
	}, nil)

	req, ok := f.Make(model.Mutation{Key: "k1", Body: []byte(`{"x":1}`), Cas: 42})
	require.True(t, ok)
	upsert := req.(model.Upsert)
	require.Contains(t, string(upsert.Body), `"doc":{"x":1}`)
	require.Contains(t, string(upsert.Body), `"cas":42`)
}
