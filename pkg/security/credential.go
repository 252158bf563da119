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

// Package security loads TLS material for the source and index connections,
// grounded on the teacher's pkg/security.Credential (CAPath/CertPath/KeyPath)
// and on the original connector's per-section pathToCaCertificate /
// deprecated top-level [truststore] split (spec §6).
package security

import (
	"crypto/tls"
	"crypto/x509"
	"os"

	"github.com/pingcap/errors"
)

// Credential describes the TLS material for a single outbound connection
// (Couchbase or Elasticsearch).
type Credential struct {
	CAPath        string
	CertPath      string
	KeyPath       string
	CertAllowedCN []string
}

// IsTLSEnabled reports whether any TLS material was configured.
func (c *Credential) IsTLSEnabled() bool {
	return c != nil && (c.CAPath != "" || c.CertPath != "")
}

// ToTLSConfig builds a *tls.Config from the credential, or nil if TLS is not
// configured.
func (c *Credential) ToTLSConfig() (*tls.Config, error) {
	if !c.IsTLSEnabled() {
		return nil, nil
	}

	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12}

	if c.CAPath != "" {
		pool, err := loadCertPool(c.CAPath)
		if err != nil {
			return nil, errors.Annotate(err, "load CA certificate")
		}
		tlsCfg.RootCAs = pool
	}

	if c.CertPath != "" && c.KeyPath != "" {
		cert, err := tls.LoadX509KeyPair(c.CertPath, c.KeyPath)
		if err != nil {
			return nil, errors.Annotate(err, "load client certificate")
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}

	if len(c.CertAllowedCN) > 0 {
		tlsCfg.VerifyPeerCertificate = verifyCommonName(c.CertAllowedCN)
	}

	return tlsCfg, nil
}

func loadCertPool(path string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Trace(err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errors.Errorf("no certificates found in %s", path)
	}
	return pool, nil
}

func verifyCommonName(allowed []string) func([][]byte, [][]*x509.Certificate) error {
	allowedSet := make(map[string]struct{}, len(allowed))
	for _, cn := range allowed {
		allowedSet[cn] = struct{}{}
	}
	return func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		for _, raw := range rawCerts {
			cert, err := x509.ParseCertificate(raw)
			if err != nil {
				continue
			}
			if _, ok := allowedSet[cert.Subject.CommonName]; ok {
				return nil
			}
		}
		return errors.Errorf("peer certificate common name not in allowed list %v", allowed)
	}
}

// Describe renders a human-readable summary of the certificate path for
// startup logging, matching KeyStoreHelper.describe in the original
// connector.
func Describe(caPath string) string {
	if caPath == "" {
		return "(none configured; using system trust store)"
	}
	return caPath
}
