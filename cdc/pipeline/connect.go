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

package pipeline

import (
	"context"
	"crypto/x509"
	"time"

	"github.com/couchbase/gocbcore/v10"

	"github.com/couchbase/cbes/pkg/security"
)

// ConnectOptions carries the source connection details server.go assembles
// from [couchbase] configuration into a live gocbcore.Agent.
type ConnectOptions struct {
	Hostnames  []string
	Bucket     string
	Username   string
	Password   string
	Scope      string
	Collection string
	TLS        security.Credential
}

// Connect opens a gocbcore.Agent against the source bucket and blocks until
// it is ready to serve requests, or ctx expires. This is the one place the
// connector constructs a gocbcore.Agent; everything downstream of it talks
// to dcpAgent instead.
func Connect(ctx context.Context, opts ConnectOptions) (*gocbcore.Agent, error) {
	cfg := &gocbcore.AgentConfig{
		BucketName: opts.Bucket,
		UserAgent:  "cbes",
		SeedConfig: gocbcore.SeedConfig{
			HTTPAddrs: opts.Hostnames,
		},
		SecurityConfig: gocbcore.SecurityConfig{
			Auth: gocbcore.PasswordAuthProvider{
				Username: opts.Username,
				Password: opts.Password,
			},
		},
	}
	if opts.TLS.IsTLSEnabled() {
		tlsConfig, err := opts.TLS.ToTLSConfig()
		if err != nil {
			return nil, err
		}
		rootCAs := tlsConfig.RootCAs
		cfg.SecurityConfig.TLSRootCAProvider = func() *x509.CertPool { return rootCAs }
	}

	agent, err := gocbcore.CreateAgent(cfg)
	if err != nil {
		return nil, err
	}

	deadline, ok := ctx.Deadline()
	waitFor := 10 * time.Second
	if ok {
		waitFor = time.Until(deadline)
	}

	done := make(chan error, 1)
	_, err = agent.WaitUntilReady(time.Now().Add(waitFor), gocbcore.WaitUntilReadyOptions{},
		func(_ *gocbcore.WaitUntilReadyResult, err error) {
			done <- err
		})
	if err != nil {
		return nil, err
	}

	select {
	case err := <-done:
		if err != nil {
			return nil, err
		}
		return agent, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
