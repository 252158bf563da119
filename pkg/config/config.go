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

// Package config decodes and validates the connector's TOML configuration
// file (spec §6), the teacher's pattern of a single strict-decoded root
// struct (pkg/cmd/util.StrictDecodeFile) rather than layered defaults
// merging.
package config

import (
	"github.com/pingcap/log"
	"go.uber.org/zap"

	"github.com/couchbase/cbes/cdc/model"
	cdcerrors "github.com/couchbase/cbes/pkg/errors"
	"github.com/couchbase/cbes/pkg/logutil"
	"github.com/couchbase/cbes/pkg/security"
)

// CouchbaseConfig describes the source connection.
type CouchbaseConfig struct {
	Hostnames           []string `toml:"hostnames"`
	Bucket              string   `toml:"bucket"`
	Username            string   `toml:"username"`
	Password            string   `toml:"password"`
	MetadataCollection  string   `toml:"metadataCollection"`
	PathToCACertificate string   `toml:"pathToCaCertificate"`
	ClientCertificate   string   `toml:"clientCertificate"`
	ClientKey           string   `toml:"clientKey"`
	DCPConnectTimeoutMS int      `toml:"dcpConnectTimeoutMillis"`
}

// TLSCredential builds a security.Credential for this connection.
func (c CouchbaseConfig) TLSCredential() security.Credential {
	return security.Credential{
		CAPath:   c.PathToCACertificate,
		CertPath: c.ClientCertificate,
		KeyPath:  c.ClientKey,
	}
}

// BulkRequestConfig bounds a single Elasticsearch bulk call (spec §4.5).
type BulkRequestConfig struct {
	MaxDocs         int `toml:"maxDocs"`
	MaxBytes        int `toml:"maxBytes"`
	MaxPendingBytes int `toml:"maxPendingBytes"`
}

// TypeRuleConfig is the TOML shape of a model.TypeRule.
type TypeRuleConfig struct {
	KeyPattern    string `toml:"keyPattern"`
	IndexName     string `toml:"indexName"`
	Routing       string `toml:"routing"`
	Pipeline      string `toml:"pipeline"`
	Ignore        bool   `toml:"ignore"`
	IgnoreDeletes bool   `toml:"ignoreDeletes"`
	DocIDFormat   string `toml:"docIdFormat"`
	TypeName      string `toml:"typeName"`
}

// ToModel converts a TypeRuleConfig into a model.TypeRule under the given
// default doc structure.
func (t TypeRuleConfig) ToModel(defaultDocStructure model.DocStructure) model.TypeRule {
	return model.TypeRule{
		KeyPattern:    t.KeyPattern,
		IndexName:     t.IndexName,
		Routing:       t.Routing,
		Pipeline:      t.Pipeline,
		Ignore:        t.Ignore,
		IgnoreDeletes: t.IgnoreDeletes,
		DocIDFormat:   t.DocIDFormat,
		TypeName:      t.TypeName,
		DocStructure:  defaultDocStructure,
	}
}

// ElasticsearchConfig describes the index connection and indexing
// behaviour.
type ElasticsearchConfig struct {
	Hosts               []string          `toml:"hosts"`
	Username            string            `toml:"username"`
	Password            string            `toml:"password"`
	PathToCACertificate string            `toml:"pathToCaCertificate"`
	ClientCertificate   string            `toml:"clientCertificate"`
	ClientKey           string            `toml:"clientKey"`
	DocStructure        string            `toml:"docStructure"`
	RejectLog           string            `toml:"rejectLog"`
	BulkRequest         BulkRequestConfig `toml:"bulkRequest"`
	Types               []TypeRuleConfig  `toml:"type"`
}

// TLSCredential builds a security.Credential for this connection.
func (e ElasticsearchConfig) TLSCredential() security.Credential {
	return security.Credential{
		CAPath:   e.PathToCACertificate,
		CertPath: e.ClientCertificate,
		KeyPath:  e.ClientKey,
	}
}

// StaticMembershipConfig is the configured (member, clusterSize) pair.
type StaticMembershipConfig struct {
	MemberNumber int `toml:"memberNumber"`
	ClusterSize  int `toml:"clusterSize"`
}

// GroupConfig describes this connector's replication group (spec §4.1). If
// StaticMembership.MemberNumber is 0, membership is instead resolved from
// the pod's StatefulSet ordinal and replica count (spec §4.1, "Kubernetes
// membership resolution").
type GroupConfig struct {
	Name                      string                 `toml:"name"`
	StaticMembership          StaticMembershipConfig `toml:"staticMembership"`
	StartupQuietPeriodSeconds int                    `toml:"startupQuietPeriodSeconds"`

	// StatefulSetName names the Kubernetes StatefulSet this pod belongs
	// to, consulted only when StaticMembership.MemberNumber is 0. The
	// pod's namespace is read from the POD_NAMESPACE downward-API
	// environment variable.
	StatefulSetName string `toml:"statefulSetName"`
}

// UseKubernetesMembership reports whether membership should be resolved
// from the pod's StatefulSet ordinal and replica count rather than from
// StaticMembership.
func (g GroupConfig) UseKubernetesMembership() bool {
	return g.StaticMembership.MemberNumber == 0
}

// MetricsConfig describes the metrics HTTP surface (spec §6).
type MetricsConfig struct {
	HTTPPort    int `toml:"httpPort"`
	LogInterval int `toml:"logIntervalSeconds"`
}

// LoggingConfig describes logging behaviour (spec §6).
type LoggingConfig struct {
	RedactionLevel       string `toml:"redactionLevel"`
	LogDocumentLifecycle bool   `toml:"logDocumentLifecycle"`
}

// DeprecatedTrustStoreConfig is the deprecated top-level TLS configuration
// block, superseded by per-section pathToCaCertificate (spec §6). It is
// still accepted, with a startup warning.
type DeprecatedTrustStoreConfig struct {
	Path     string `toml:"path"`
	Password string `toml:"password"`
}

// ConnectorConfig is the TOML-decoded root configuration document
// (spec §6).
type ConnectorConfig struct {
	Couchbase     CouchbaseConfig            `toml:"couchbase"`
	Elasticsearch ElasticsearchConfig        `toml:"elasticsearch"`
	Group         GroupConfig                `toml:"group"`
	Metrics       MetricsConfig              `toml:"metrics"`
	Logging       LoggingConfig              `toml:"logging"`
	TrustStore    DeprecatedTrustStoreConfig `toml:"truststore"`
}

// DefaultDocStructure returns the configured doc structure, defaulting to
// JustBody when unset.
func (c *ConnectorConfig) DefaultDocStructure() model.DocStructure {
	switch c.Elasticsearch.DocStructure {
	case string(model.DocStructureAutoNested):
		return model.DocStructureAutoNested
	default:
		return model.DocStructureJustBody
	}
}

// TypeRules converts the configured type rules into model.TypeRule values.
func (c *ConnectorConfig) TypeRules() []model.TypeRule {
	defaultStructure := c.DefaultDocStructure()
	rules := make([]model.TypeRule, 0, len(c.Elasticsearch.Types))
	for _, t := range c.Elasticsearch.Types {
		rules = append(rules, t.ToModel(defaultStructure))
	}
	return rules
}

// ValidateAndAdjust checks the decoded configuration for internal
// consistency and fills in defaults, the way the teacher's
// *Config.ValidateAndAdjust methods do across pkg/config.
func (c *ConnectorConfig) ValidateAndAdjust() error {
	if c.TrustStore.Path != "" {
		log.Warn("the top-level [truststore] configuration block is deprecated; " +
			"use pathToCaCertificate under [couchbase] and [elasticsearch] instead")
	}

	if c.Group.Name == "" {
		return cdcerrors.ErrInvalidConfig.GenWithStackByArgs("group.name must not be empty")
	}

	if c.Metrics.HTTPPort <= 0 {
		c.Metrics.HTTPPort = 8080
	}
	if c.Elasticsearch.BulkRequest.MaxDocs <= 0 {
		c.Elasticsearch.BulkRequest.MaxDocs = 1000
	}
	if c.Elasticsearch.BulkRequest.MaxBytes <= 0 {
		c.Elasticsearch.BulkRequest.MaxBytes = 10 * 1024 * 1024
	}
	if c.Elasticsearch.BulkRequest.MaxPendingBytes <= 0 {
		c.Elasticsearch.BulkRequest.MaxPendingBytes = 100 * 1024 * 1024
	}

	switch logutil.RedactionLevel(c.Logging.RedactionLevel) {
	case "", logutil.RedactNone, logutil.RedactPartial, logutil.RedactFull:
	default:
		return cdcerrors.ErrInvalidConfig.GenWithStackByArgs(
			"logging.redactionLevel must be one of none, partial, full")
	}

	log.Info("configuration loaded",
		zap.String("group", c.Group.Name),
		zap.Int("bulkMaxDocs", c.Elasticsearch.BulkRequest.MaxDocs),
		zap.Int("metricsHTTPPort", c.Metrics.HTTPPort))
	return nil
}
