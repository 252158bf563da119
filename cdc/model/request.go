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

// IndexRequest is the output of RequestFactory: a single bulk action bound
// for the target index, still carrying the (Partition, SeqNo) of the event
// it was derived from so WorkerGroup can checkpoint after it is durable
// (spec §3).
type IndexRequest interface {
	RequestIndexName() string
	RequestDocID() string
	RequestPartition() Partition
	RequestSeqNo() SeqNo

	isIndexRequest()
}

// Upsert indexes or replaces a document.
type Upsert struct {
	IndexName string
	DocID     string
	Version   SeqNo
	Routing   string
	Pipeline  string
	Body      []byte
	Partition Partition
	SeqNo     SeqNo
}

func (u Upsert) RequestIndexName() string    { return u.IndexName }
func (u Upsert) RequestDocID() string        { return u.DocID }
func (u Upsert) RequestPartition() Partition { return u.Partition }
func (u Upsert) RequestSeqNo() SeqNo         { return u.SeqNo }
func (Upsert) isIndexRequest()               {}

// Delete removes a document from the index.
type Delete struct {
	IndexName string
	DocID     string
	Version   SeqNo
	Routing   string
	Partition Partition
	SeqNo     SeqNo
}

func (d Delete) RequestIndexName() string    { return d.IndexName }
func (d Delete) RequestDocID() string        { return d.DocID }
func (d Delete) RequestPartition() Partition { return d.Partition }
func (d Delete) RequestSeqNo() SeqNo         { return d.SeqNo }
func (Delete) isIndexRequest()               {}

var (
	_ IndexRequest = Upsert{}
	_ IndexRequest = Delete{}
)
