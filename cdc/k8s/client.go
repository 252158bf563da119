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

package k8s

import (
	"os"

	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"

	cdcerrors "github.com/couchbase/cbes/pkg/errors"
)

// NewInClusterClientset builds a client-go Clientset from the pod's
// in-cluster service account, the only configuration client-go needs when
// CBES itself runs as a StatefulSet pod.
func NewInClusterClientset() (kubernetes.Interface, error) {
	cfg, err := rest.InClusterConfig()
	if err != nil {
		return nil, cdcerrors.ErrInvalidConfig.Wrap(err).GenWithStackByArgs("could not load in-cluster kubernetes config")
	}
	return kubernetes.NewForConfig(cfg)
}

// EnvNamespace reads the pod's namespace the way the Kubernetes downward API
// conventionally exposes it, via the POD_NAMESPACE environment variable.
func EnvNamespace() string {
	return os.Getenv("POD_NAMESPACE")
}
