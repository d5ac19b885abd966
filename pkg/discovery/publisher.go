/*
Copyright 2025 The SuperSONIC Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package discovery publishes one headless Service per model. The Service
// selects the Pods carrying the model's loaded label, so traffic follows
// the labels the reconciler maintains.
package discovery

import (
	"context"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"
	corev1client "k8s.io/client-go/kubernetes/typed/core/v1"
	"k8s.io/klog/v2"

	"github.com/fastmachinelearning/sonic-sync/pkg/api"
	"github.com/fastmachinelearning/sonic-sync/pkg/labels"
	"github.com/fastmachinelearning/sonic-sync/pkg/utils"
)

// Publisher idempotently creates or updates the per-model headless Services
// of one release.
type Publisher struct {
	core      corev1client.CoreV1Interface
	release   string
	namespace string
}

// NewPublisher returns a publisher for the given release and namespace.
func NewPublisher(core corev1client.CoreV1Interface, release, namespace string) *Publisher {
	return &Publisher{core: core, release: release, namespace: namespace}
}

// ServiceName is the name of the headless Service routing the given fully
// qualified model. Model names are escaped the same way as label keys so
// the result is a valid DNS-1035 name.
func (p *Publisher) ServiceName(fullModelName string) string {
	return p.release + "-" + labels.Escape(fullModelName)
}

// Publish creates the model's headless Service, or patches it into the
// desired shape if it already exists. Safe to call repeatedly.
func (p *Publisher) Publish(ctx context.Context, fullModelName string) error {
	logger := klog.FromContext(ctx).WithValues("model", fullModelName)
	name := p.ServiceName(fullModelName)
	desired := p.desiredService(name, fullModelName)
	svcOps := p.core.Services(p.namespace)

	existing, err := svcOps.Get(ctx, name, metav1.GetOptions{})
	if err == nil {
		// ClusterIP is immutable; carry the rest of the desired shape over.
		existing = existing.DeepCopy()
		existing.Labels = desired.Labels
		existing.Annotations = desired.Annotations
		existing.Spec.Ports = desired.Spec.Ports
		existing.Spec.Selector = desired.Spec.Selector
		if _, err := svcOps.Update(ctx, existing, metav1.UpdateOptions{}); err != nil {
			return fmt.Errorf("failed to update Service %q: %w", name, err)
		}
		logger.V(3).Info("Updated discovery Service", "service", name)
		return nil
	}
	if !apierrors.IsNotFound(err) {
		return fmt.Errorf("failed to get Service %q: %w", name, err)
	}

	if _, err := svcOps.Create(ctx, desired, metav1.CreateOptions{}); err != nil {
		return fmt.Errorf("failed to create Service %q: %w", name, err)
	}
	logger.V(2).Info("Created discovery Service", "service", name)
	return nil
}

func (p *Publisher) desiredService(name, fullModelName string) *corev1.Service {
	componentLabels := map[string]string{
		api.NameLabelKey:      api.NameLabelValue,
		api.InstanceLabelKey:  p.release,
		api.ComponentLabelKey: api.ComponentLabelValue,
	}
	selector := utils.MapSet(
		utils.MapCopy(componentLabels),
		labels.KeyForFullName(fullModelName), api.ModelLoadedLabelValue)

	return &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{
			Name:   name,
			Labels: componentLabels,
			Annotations: map[string]string{
				"meta.helm.sh/release-name":      p.release,
				"meta.helm.sh/release-namespace": p.namespace,
			},
		},
		Spec: corev1.ServiceSpec{
			ClusterIP: corev1.ClusterIPNone, // headless
			Ports: []corev1.ServicePort{
				servicePort("http", api.HTTPPort),
				servicePort("grpc", api.GRPCPort),
				servicePort("metrics", api.MetricsPort),
			},
			Selector: selector,
		},
	}
}

func servicePort(name string, port int32) corev1.ServicePort {
	return corev1.ServicePort{
		Name:       name,
		Port:       port,
		TargetPort: intstr.FromInt32(port),
		Protocol:   corev1.ProtocolTCP,
	}
}
