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

// Package k8s lets the connector derive its group membership from a
// Kubernetes StatefulSet instead of a fixed config file, grounded on the
// original connector's StatefulSetInfo/ReplicaChangeWatcher (spec §4.1,
// supplemented feature). A pod in a StatefulSet gets a stable hostname of
// the form "<name>-<ordinal>"; the ordinal plus one is the pod's 1-based
// group member number.
package k8s

import (
	"os"
	"strconv"
	"strings"

	cdcerrors "github.com/couchbase/cbes/pkg/errors"
)

// StatefulSetInfo identifies a pod's position within its StatefulSet.
type StatefulSetInfo struct {
	Hostname string
	ordinal  int
}

// FromHostname derives a StatefulSetInfo from the given pod hostname, which
// must end in "-N" for some non-negative integer N.
func FromHostname(hostname string) (StatefulSetInfo, error) {
	idx := strings.LastIndexByte(hostname, '-')
	if idx < 0 || idx == len(hostname)-1 {
		return StatefulSetInfo{}, cdcerrors.ErrInvalidConfig.GenWithStackByArgs(
			"pod hostname " + hostname + " does not look like a StatefulSet pod (expected a trailing -N)")
	}
	ordinal, err := strconv.Atoi(hostname[idx+1:])
	if err != nil || ordinal < 0 {
		return StatefulSetInfo{}, cdcerrors.ErrInvalidConfig.GenWithStackByArgs(
			"pod hostname " + hostname + " has a non-numeric StatefulSet ordinal")
	}
	return StatefulSetInfo{Hostname: hostname, ordinal: ordinal}, nil
}

// FromEnvHostname reads the pod hostname from os.Hostname(), the way the
// original connector's StatefulSetInfo.fromHostname() reads
// InetAddress.getLocalHost().getHostName().
func FromEnvHostname() (StatefulSetInfo, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return StatefulSetInfo{}, cdcerrors.ErrInvalidConfig.GenWithStackByArgs(
			"could not determine pod hostname: " + err.Error())
	}
	return FromHostname(hostname)
}

// PodOrdinal is the pod's 0-based index within the StatefulSet.
func (s StatefulSetInfo) PodOrdinal() int {
	return s.ordinal
}

// MemberNumber is the pod's 1-based group member number.
func (s StatefulSetInfo) MemberNumber() int {
	return s.ordinal + 1
}
