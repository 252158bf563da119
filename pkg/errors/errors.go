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

// Package errors defines the normalized, RFC-coded error classes used across
// the connector, following the same shape as pingcap/errors.Normalize used
// throughout the teacher codebase.
package errors

import (
	"github.com/pingcap/errors"
)

// Configuration and startup errors (spec §7 class 5/6): fatal at startup,
// never raised once the pipeline is running.
var (
	ErrInvalidMembership = errors.Normalize(
		"invalid group membership: %s",
		errors.RFCCodeText("CBES:ErrInvalidMembership"),
	)
	ErrMoreWorkersThanPartitions = errors.Normalize(
		"there are more workers than source partitions; this worker has no partitions to own",
		errors.RFCCodeText("CBES:ErrMoreWorkersThanPartitions"),
	)
	ErrInvalidConfig = errors.Normalize(
		"invalid connector configuration: %s",
		errors.RFCCodeText("CBES:ErrInvalidConfig"),
	)
	ErrIndexVersionIncompatible = errors.Normalize(
		"index cluster version %s is not in the supported range [%s, %s]",
		errors.RFCCodeText("CBES:ErrIndexVersionIncompatible"),
	)
)

// Replication protocol errors (spec §7 class 7/8): fatal, routed through the
// panic button, skip the final checkpoint save.
var (
	ErrDcpConnectTimeout = errors.Normalize(
		"failed to establish initial replication connection within %s",
		errors.RFCCodeText("CBES:ErrDcpConnectTimeout"),
	)
	ErrDcpStreamClosed = errors.Normalize(
		"replication stream closed unexpectedly: %s",
		errors.RFCCodeText("CBES:ErrDcpStreamClosed"),
	)
	ErrBucketUUIDChanged = errors.Normalize(
		"source dataset uuid changed mid-stream for partition %d",
		errors.RFCCodeText("CBES:ErrBucketUUIDChanged"),
	)
	ErrMembershipChanged = errors.Normalize(
		"external cluster size changed from %d to %d; restart required",
		errors.RFCCodeText("CBES:ErrMembershipChanged"),
	)
)

// Checkpoint and indexing errors.
var (
	ErrCheckpointSaveFailed = errors.Normalize(
		"failed to save checkpoints for partitions %v",
		errors.RFCCodeText("CBES:ErrCheckpointSaveFailed"),
	)
	ErrBulkRequestFailed = errors.Normalize(
		"bulk index request failed: %s",
		errors.RFCCodeText("CBES:ErrBulkRequestFailed"),
	)
	ErrMalformedPayload = errors.Normalize(
		"document %s has a malformed payload: %s",
		errors.RFCCodeText("CBES:ErrMalformedPayload"),
	)
)

// IsCliUnprintableError reports whether the CLI layer should skip echoing
// err. It returns true only for a nil error; every non-nil error is echoed.
func IsCliUnprintableError(err error) bool {
	return err == nil
}
