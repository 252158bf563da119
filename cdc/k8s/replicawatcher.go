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
	"context"
	"fmt"

	appsv1 "k8s.io/api/apps/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/fields"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/cache"

	"github.com/couchbase/cbes/cdc/panicbutton"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

// ReplicaChangeWatcher watches a single StatefulSet's spec.replicas and
// presses the panic button the instant it changes, since this connector's
// static membership assignment (spec §4.1) is only valid for the cluster
// size it started with. Grounded on the original connector's
// ReplicaChangeWatcher, reimplemented over client-go's list-watch/informer
// machinery rather than the Java Fabric8 client it used.
type ReplicaChangeWatcher struct {
	Clientset kubernetes.Interface
	Namespace string
	Name      string
}

// CurrentReplicas fetches the StatefulSet's current spec.replicas, used once
// at startup as the cluster size.
func (w ReplicaChangeWatcher) CurrentReplicas(ctx context.Context) (int32, error) {
	sts, err := w.Clientset.AppsV1().StatefulSets(w.Namespace).Get(ctx, w.Name, metav1.GetOptions{})
	if err != nil {
		return 0, fmt.Errorf("get statefulset %s/%s: %w", w.Namespace, w.Name, err)
	}
	return replicasOf(sts), nil
}

// Watch blocks, informed by a client-go shared informer, until ctx is
// cancelled or the StatefulSet's replica count changes from its value at
// the time Watch was called, at which point it presses button and returns.
func (w ReplicaChangeWatcher) Watch(ctx context.Context, button panicbutton.Button) error {
	initial, err := w.CurrentReplicas(ctx)
	if err != nil {
		return err
	}

	selector := fields.OneTermEqualSelector("metadata.name", w.Name).String()
	_, informer := cache.NewInformer(
		&cache.ListWatch{
			ListFunc: func(options metav1.ListOptions) (runtime.Object, error) {
				options.FieldSelector = selector
				return w.Clientset.AppsV1().StatefulSets(w.Namespace).List(ctx, options)
			},
			WatchFunc: func(options metav1.ListOptions) (watch.Interface, error) {
				options.FieldSelector = selector
				return w.Clientset.AppsV1().StatefulSets(w.Namespace).Watch(ctx, options)
			},
		},
		&appsv1.StatefulSet{},
		0,
		cache.ResourceEventHandlerFuncs{
			UpdateFunc: func(_, newObj interface{}) {
				sts, ok := newObj.(*appsv1.StatefulSet)
				if !ok {
					return
				}
				if current := replicasOf(sts); current != initial {
					log.Error("kubernetes statefulset replica count changed; membership is now invalid",
						zap.String("statefulSet", w.Name),
						zap.Int32("previous", initial),
						zap.Int32("current", current))
					button.Panic(fmt.Errorf("statefulset %s/%s replica count changed from %d to %d",
						w.Namespace, w.Name, initial, current))
				}
			},
		},
	)

	stop := make(chan struct{})
	defer close(stop)
	go informer.Run(stop)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-button.Done():
		return nil
	}
}

func replicasOf(sts *appsv1.StatefulSet) int32 {
	if sts.Spec.Replicas == nil {
		return 1
	}
	return *sts.Spec.Replicas
}
