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

// Package server implements the `cbes server` command: load configuration,
// wire every component together, and run Supervisor until shutdown,
// following the shape of the teacher's pkg/cmd/server.
package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/couchbase/cbes/cdc/checkpoint"
	"github.com/couchbase/cbes/cdc/k8s"
	"github.com/couchbase/cbes/cdc/membership"
	"github.com/couchbase/cbes/cdc/metrics"
	"github.com/couchbase/cbes/cdc/model"
	"github.com/couchbase/cbes/cdc/panicbutton"
	"github.com/couchbase/cbes/cdc/pipeline"
	"github.com/couchbase/cbes/cdc/rejectlog"
	"github.com/couchbase/cbes/cdc/requestfactory"
	"github.com/couchbase/cbes/cdc/supervisor"
	"github.com/couchbase/cbes/cdc/worker"
	"github.com/couchbase/cbes/cdc/worker/esclient"
	"github.com/couchbase/cbes/pkg/cmd/util"
	"github.com/couchbase/cbes/pkg/config"
	"github.com/couchbase/cbes/pkg/logutil"
	"github.com/couchbase/cbes/pkg/version"
)

// options holds the flags for the `server` command.
type options struct {
	configFilePath string
	logFile        string
	logLevel       string
}

func newOptions() *options {
	return &options{logLevel: "info"}
}

func (o *options) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.configFilePath, "config", "", "Path of the connector's configuration file (required)")
	cmd.Flags().StringVar(&o.logFile, "log-file", "", "log file path; empty logs to stdout")
	cmd.Flags().StringVar(&o.logLevel, "log-level", o.logLevel, "log level (debug|info|warn|error)")
	_ = cmd.MarkFlagRequired("config")
}

func (o *options) run(cmd *cobra.Command) error {
	ctx, cancel := util.InitCmd(cmd, &logutil.Config{File: o.logFile, Level: o.logLevel})
	defer cancel()

	version.LogInfo()

	conf := &config.ConnectorConfig{}
	if err := util.StrictDecodeFile(o.configFilePath, "cbes server", conf, "truststore"); err != nil {
		return errors.Trace(err)
	}
	if err := conf.ValidateAndAdjust(); err != nil {
		return errors.Trace(err)
	}
	logutil.SetRedactionLevel(logutil.RedactionLevel(conf.Logging.RedactionLevel))

	member, err := resolveMembership(ctx, conf, cancel)
	if err != nil {
		return errors.Trace(err)
	}

	deps, closeFn, err := buildDependencies(conf, member)
	if err != nil {
		return errors.Trace(err)
	}
	defer closeFn()

	util.InitSignalHandling(func() <-chan struct{} {
		cancel()
		done := make(chan struct{})
		close(done)
		return done
	}, cancel)

	sup := supervisor.New(deps)
	if err := sup.Run(ctx); err != nil {
		log.Error("connector exited with a fatal error", zap.Error(err))
		return errors.Trace(err)
	}
	log.Info("cbes server exits successfully")
	return nil
}

// resolveMembership derives this process's group membership from static
// configuration, or from its Kubernetes StatefulSet identity when
// StaticMembership is unset (spec §4.1). A change in the StatefulSet's
// replica count after startup is fatal, enforced by ReplicaChangeWatcher
// running for the lifetime of the process.
func resolveMembership(ctx context.Context, conf *config.ConnectorConfig, cancel context.CancelFunc) (model.Membership, error) {
	if !conf.Group.UseKubernetesMembership() {
		return model.Membership{
			MemberNumber: conf.Group.StaticMembership.MemberNumber,
			ClusterSize:  conf.Group.StaticMembership.ClusterSize,
		}, nil
	}

	memberNumber, err := membership.ResolveMemberNumber()
	if err != nil {
		return model.Membership{}, err
	}

	clientset, err := k8s.NewInClusterClientset()
	if err != nil {
		return model.Membership{}, err
	}
	watcher := k8s.ReplicaChangeWatcher{
		Clientset: clientset,
		Namespace: k8s.EnvNamespace(),
		Name:      conf.Group.StatefulSetName,
	}
	replicas, err := watcher.CurrentReplicas(ctx)
	if err != nil {
		return model.Membership{}, err
	}

	button := panicbutton.NewDefaultButton()
	button.AddPrePanicHook(cancel)
	go func() {
		if err := watcher.Watch(ctx, button); err != nil {
			log.Warn("kubernetes replica watcher stopped", zap.Error(err))
		}
	}()

	return model.Membership{MemberNumber: memberNumber, ClusterSize: int(replicas)}, nil
}

// buildDependencies constructs every long-lived component and wires them
// into a supervisor.Dependencies, in the order a reader of
// ElasticsearchConnector.main would recognize: source connection, metadata
// store, index client, worker group, pipeline, metrics.
func buildDependencies(conf *config.ConnectorConfig, member model.Membership) (supervisor.Dependencies, func(), error) {
	connectCtx, cancelConnect := context.WithTimeout(context.Background(),
		durationOrDefault(conf.Couchbase.DCPConnectTimeoutMS, 10*time.Second))
	defer cancelConnect()

	scope, collection := splitScopeCollection(conf.Couchbase.MetadataCollection)

	agent, err := pipeline.Connect(connectCtx, pipeline.ConnectOptions{
		Hostnames:  conf.Couchbase.Hostnames,
		Bucket:     conf.Couchbase.Bucket,
		Username:   conf.Couchbase.Username,
		Password:   conf.Couchbase.Password,
		Scope:      scope,
		Collection: collection,
		TLS:        conf.Couchbase.TLSCredential(),
	})
	if err != nil {
		return supervisor.Dependencies{}, nil, fmt.Errorf("connect to couchbase: %w", err)
	}

	checkpointStore := &checkpoint.CouchbaseStore{
		Agent:          agent,
		Group:          conf.Group.Name,
		ScopeName:      scope,
		CollectionName: collection,
	}
	checkpointSvc := checkpoint.NewService(checkpointStore)

	var rejectLog *rejectlog.Logger
	if conf.Elasticsearch.RejectLog != "" {
		rejectLog, err = rejectlog.Open(conf.Elasticsearch.RejectLog)
		if err != nil {
			_ = agent.Close()
			return supervisor.Dependencies{}, nil, fmt.Errorf("open reject log: %w", err)
		}
	}

	esCredential := conf.Elasticsearch.TLSCredential()
	esTLS, err := esCredential.ToTLSConfig()
	if err != nil {
		_ = agent.Close()
		return supervisor.Dependencies{}, nil, fmt.Errorf("build elasticsearch tls config: %w", err)
	}
	// esclient.Client talks to a single _bulk endpoint; a load balancer or
	// coordinating-only node in front of the cluster is expected to stand
	// behind the first configured host, the same assumption the original
	// connector's Elasticsearch RestHighLevelClient made when given a list
	// of hosts for failover rather than sharding.
	esClient := esclient.New(firstOrEmpty(conf.Elasticsearch.Hosts), conf.Elasticsearch.Username, conf.Elasticsearch.Password,
		httpClientFor(esTLS))

	button := panicbutton.NewDefaultButton()
	registry := metrics.NewRegistry(prometheus.DefaultRegisterer)

	workerGroup := worker.NewGroup(worker.Config{
		MaxDocs:  conf.Elasticsearch.BulkRequest.MaxDocs,
		MaxBytes: conf.Elasticsearch.BulkRequest.MaxBytes,
	}, esClient, checkpointSvc, button, registry, rejectLog)

	factory := requestfactory.New(conf.TypeRules(), rejectLog)

	pipelineAgent := pipeline.NewGocbcoreDcpAgent(agent, scope, collection)
	dcpPipeline := pipeline.New(pipeline.Config{}, pipelineAgent, checkpointSvc, factory, workerGroup, registry, button, member)

	logInterval := 60 * time.Second
	if conf.Metrics.LogInterval > 0 {
		logInterval = time.Duration(conf.Metrics.LogInterval) * time.Second
	}
	logReporter := metrics.NewLogReporter(registry.Dropwizard(), logInterval)

	deps := supervisor.Dependencies{
		Config:          conf,
		Membership:      member,
		Pipeline:        dcpPipeline,
		Worker:          workerGroup,
		CheckpointSvc:   checkpointSvc,
		Button:          button,
		MetricsRegistry: registry,
		LogReporter:     logReporter,
		StartMetricsHTTPServer: func() {
			metrics.StartHTTPServer(fmt.Sprintf(":%d", conf.Metrics.HTTPPort), prometheus.DefaultGatherer, registry.Dropwizard())
		},
	}

	closeFn := func() {
		if rejectLog != nil {
			_ = rejectLog.Close()
		}
	}
	return deps, closeFn, nil
}

func durationOrDefault(millisOrSeconds int, def time.Duration) time.Duration {
	if millisOrSeconds <= 0 {
		return def
	}
	return time.Duration(millisOrSeconds) * time.Millisecond
}

func splitScopeCollection(metadataCollection string) (scope, collection string) {
	scope, collection, ok := strings.Cut(metadataCollection, ".")
	if !ok {
		return "_default", "_default"
	}
	return scope, collection
}

func firstOrEmpty(hosts []string) string {
	if len(hosts) == 0 {
		return ""
	}
	return hosts[0]
}

func httpClientFor(tlsConfig *tls.Config) *http.Client {
	if tlsConfig == nil {
		return http.DefaultClient
	}
	return &http.Client{Transport: &http.Transport{TLSClientConfig: tlsConfig}}
}

// NewCmdServer creates the `server` command.
func NewCmdServer() *cobra.Command {
	o := newOptions()

	command := &cobra.Command{
		Use:   "server",
		Short: "Start the Couchbase Elasticsearch Connector",
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd)
		},
	}
	o.addFlags(command)
	return command
}
