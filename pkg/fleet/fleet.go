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

// Package fleet enumerates the Triton server Pods of one release.
package fleet

import (
	"context"
	"fmt"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	k8slabels "k8s.io/apimachinery/pkg/labels"
	"k8s.io/client-go/kubernetes"
	"k8s.io/klog/v2"
	"k8s.io/utils/ptr"

	"github.com/fastmachinelearning/sonic-sync/pkg/api"
)

// ResourceNotFoundError reports that a Deployment or Pod this system
// depends on does not exist.
type ResourceNotFoundError struct {
	Kind      string
	Name      string
	Namespace string
}

func (e *ResourceNotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found in namespace %q", e.Kind, e.Name, e.Namespace)
}

// Directory looks up the Deployment and Pods of one release.
type Directory struct {
	clientset kubernetes.Interface
	release   string
	namespace string
}

// NewDirectory returns a directory for the given release and namespace.
func NewDirectory(clientset kubernetes.Interface, release, namespace string) *Directory {
	return &Directory{clientset: clientset, release: release, namespace: namespace}
}

// DeploymentName is the name of the Deployment owning the server Pods.
func (d *Directory) DeploymentName() string {
	return d.release + api.DeploymentSuffix
}

// GetDeployment fetches the release's Triton Deployment.
func (d *Directory) GetDeployment(ctx context.Context) (*appsv1.Deployment, error) {
	logger := klog.FromContext(ctx)
	name := d.DeploymentName()
	dep, err := d.clientset.AppsV1().Deployments(d.namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return nil, &ResourceNotFoundError{Kind: "Deployment", Name: name, Namespace: d.namespace}
		}
		return nil, fmt.Errorf("failed to get Deployment %q: %w", name, err)
	}
	logger.V(2).Info("Retrieved deployment", "name", name,
		"availableReplicas", dep.Status.AvailableReplicas,
		"readyReplicas", dep.Status.ReadyReplicas,
		"totalReplicas", ptr.Deref(dep.Spec.Replicas, 1))
	return dep, nil
}

// selector matches the server Pods by their three-part identity.
func (d *Directory) selector() string {
	return k8slabels.Set{
		api.NameLabelKey:      api.NameLabelValue,
		api.InstanceLabelKey:  d.release,
		api.ComponentLabelKey: api.ComponentLabelValue,
	}.String()
}

// ListServers returns all Triton server Pods of the release.
func (d *Directory) ListServers(ctx context.Context) ([]corev1.Pod, error) {
	logger := klog.FromContext(ctx)
	pods, err := d.clientset.CoreV1().Pods(d.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: d.selector(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list server Pods of release %q: %w", d.release, err)
	}
	logger.V(2).Info("Found server pods", "count", len(pods.Items), "release", d.release)
	return pods.Items, nil
}
