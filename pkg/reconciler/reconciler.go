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

// Package reconciler keeps one Triton server Pod's model labels truthful.
//
// The label set is externally owned, so every mutation re-reads the Pod
// immediately before writing. That narrows, but does not close, the
// lost-update window; concurrent reconciliation of the same Pod can still
// race. Label mutation always follows the control-plane call, never
// precedes it, so a discovery reader never observes "labeled but not
// actually ready".
package reconciler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	corev1client "k8s.io/client-go/kubernetes/typed/core/v1"
	"k8s.io/klog/v2"

	"github.com/fastmachinelearning/sonic-sync/pkg/api"
	"github.com/fastmachinelearning/sonic-sync/pkg/labels"
	"github.com/fastmachinelearning/sonic-sync/pkg/triton"
	"github.com/fastmachinelearning/sonic-sync/pkg/tunnel"
	"github.com/fastmachinelearning/sonic-sync/pkg/utils"
)

// LabelMutationError reports a cluster-API rejection while patching a
// model label.
type LabelMutationError struct {
	Pod string
	Key string
	Err error
}

func (e *LabelMutationError) Error() string {
	return fmt.Sprintf("mutating label %q on pod %q failed: %v", e.Key, e.Pod, e.Err)
}

func (e *LabelMutationError) Unwrap() error { return e.Err }

// ServerReconciler owns one Triton server Pod. Each operation opens its own
// tunnel and closes it before returning; nothing is cached across
// operations.
type ServerReconciler struct {
	core      corev1client.CoreV1Interface
	namespace string
	podName   string
	forward   tunnel.Opener

	httpPort    int
	metricsPort int

	// newClient is a seam for tests.
	newClient func(server, baseURL string) (triton.Client, error)
}

// New returns a reconciler for the named Pod.
func New(core corev1client.CoreV1Interface, forward tunnel.Opener, namespace, podName string) *ServerReconciler {
	return &ServerReconciler{
		core:        core,
		namespace:   namespace,
		podName:     podName,
		forward:     forward,
		httpPort:    api.HTTPPort,
		metricsPort: api.MetricsPort,
		newClient: func(server, baseURL string) (triton.Client, error) {
			return triton.NewHTTPClient(server, baseURL)
		},
	}
}

// PodName names the Pod this reconciler owns.
func (r *ServerReconciler) PodName() string { return r.podName }

// WithPorts overrides the default Triton HTTP and metrics ports.
func (r *ServerReconciler) WithPorts(httpPort, metricsPort int) *ServerReconciler {
	if httpPort > 0 {
		r.httpPort = httpPort
	}
	if metricsPort > 0 {
		r.metricsPort = metricsPort
	}
	return r
}

// withClient opens a tunnel to the given remote port, builds a client over
// its local endpoint, and runs fn. The tunnel is closed on every exit path.
func (r *ServerReconciler) withClient(ctx context.Context, remotePort int, fn func(tunnel.Session, triton.Client) error) error {
	sess, err := r.forward.Open(ctx, r.podName, remotePort)
	if err != nil {
		return err
	}
	defer sess.Close()

	client, err := r.newClient(r.podName, fmt.Sprintf("http://localhost:%d", sess.LocalPort()))
	if err != nil {
		return err
	}
	return fn(sess, client)
}

// Models returns the Pod's live repository index. Records whose state the
// index left blank are resolved with a readiness probe, matching what the
// server would answer a discovery client right now.
func (r *ServerReconciler) Models(ctx context.Context) ([]triton.ModelRecord, error) {
	logger := klog.FromContext(ctx).WithValues("pod", r.podName)
	var result []triton.ModelRecord
	err := r.withClient(ctx, r.httpPort, func(sess tunnel.Session, client triton.Client) error {
		records, err := client.ListRepository(ctx)
		if err != nil {
			return err
		}
		for _, rec := range records {
			if rec.Name == "" {
				logger.V(2).Info("Skipping repository entry with no name")
				continue
			}
			if err := sess.Healthy(); err != nil {
				return err
			}
			if rec.State == "" {
				ready, err := client.IsReady(ctx, rec.Name)
				if err != nil {
					return err
				}
				if ready {
					rec.State = triton.StateReady
				} else {
					rec.State = triton.StateUnavailable
				}
			}
			result = append(result, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.V(3).Info("Retrieved model repository", "count", len(result))
	return result, nil
}

// SyncLabels reconciles the Pod's model labels against one snapshot of its
// live repository: a READY versioned record gets its label ensured, a
// non-READY versioned record gets it removed, and unversioned records
// ("known but unloaded") leave the label set alone.
func (r *ServerReconciler) SyncLabels(ctx context.Context) error {
	logger := klog.FromContext(ctx).WithValues("pod", r.podName)
	records, err := r.Models(ctx)
	if err != nil {
		return err
	}
	for _, rec := range records {
		switch {
		case rec.Version == "":
			logger.V(2).Info("Model known but unloaded", "model", rec.Name)
		case rec.State == triton.StateReady:
			if err := r.ensureLabel(ctx, labels.Key(rec.Name, rec.Version)); err != nil {
				return err
			}
		default:
			if err := r.removeLabel(ctx, labels.Key(rec.Name, rec.Version)); err != nil {
				return err
			}
		}
	}
	logger.V(2).Info("Completed label sync", "models", len(records))
	return nil
}

// LoadModel asks the server to load all available versions of the named
// model, then labels the Pod for exactly the concrete versions the server
// reports afterwards.
func (r *ServerReconciler) LoadModel(ctx context.Context, name string) error {
	versions, err := r.mutateModel(ctx, name, triton.Client.Load)
	if err != nil {
		return err
	}
	for _, version := range versions {
		if err := r.ensureLabel(ctx, labels.Key(name, version)); err != nil {
			return err
		}
	}
	klog.FromContext(ctx).V(2).Info("Loaded model", "pod", r.podName, "model", name, "versions", versions)
	return nil
}

// UnloadModel is symmetric to LoadModel: unload first, then drop the labels
// for the versions the server still knows about.
func (r *ServerReconciler) UnloadModel(ctx context.Context, name string) error {
	versions, err := r.mutateModel(ctx, name, triton.Client.Unload)
	if err != nil {
		return err
	}
	for _, version := range versions {
		if err := r.removeLabel(ctx, labels.Key(name, version)); err != nil {
			return err
		}
	}
	klog.FromContext(ctx).V(2).Info("Unloaded model", "pod", r.podName, "model", name, "versions", versions)
	return nil
}

// mutateModel runs the given control-plane operation and re-queries the
// repository for the concrete versions of the named model. The control
// call is strictly ordered before any label mutation by the callers.
func (r *ServerReconciler) mutateModel(ctx context.Context, name string, op func(triton.Client, context.Context, string) error) ([]string, error) {
	var versions []string
	err := r.withClient(ctx, r.httpPort, func(sess tunnel.Session, client triton.Client) error {
		if err := op(client, ctx, name); err != nil {
			return err
		}
		if err := sess.Healthy(); err != nil {
			return err
		}
		records, err := client.ListRepository(ctx)
		if err != nil {
			return err
		}
		versions, _ = utils.SliceMap(records, func(rec triton.ModelRecord) (string, error) {
			if rec.Name != name || rec.Version == "" {
				return "", io.EOF
			}
			return rec.Version, nil
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return versions, nil
}

// GPUMemory tunnels to the metrics port and returns per-GPU device memory.
func (r *ServerReconciler) GPUMemory(ctx context.Context) (map[string]triton.GPUMemory, error) {
	var mem map[string]triton.GPUMemory
	err := r.withClient(ctx, r.metricsPort, func(sess tunnel.Session, client triton.Client) error {
		text, err := client.Metrics(ctx)
		if err != nil {
			return err
		}
		mem = triton.ParseGPUMemory(klog.FromContext(ctx).WithValues("pod", r.podName), text)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return mem, nil
}

// ensureLabel sets the label to "true" if it is not already there. The Pod
// is re-read immediately before the write.
func (r *ServerReconciler) ensureLabel(ctx context.Context, key string) error {
	logger := klog.FromContext(ctx).WithValues("pod", r.podName, "label", key)
	pod, err := r.core.Pods(r.namespace).Get(ctx, r.podName, metav1.GetOptions{})
	if err != nil {
		return &LabelMutationError{Pod: r.podName, Key: key, Err: err}
	}
	if pod.Labels[key] == api.ModelLoadedLabelValue {
		logger.V(3).Info("Model label already present")
		return nil
	}
	if err := r.patchLabel(ctx, key, api.ModelLoadedLabelValue); err != nil {
		return err
	}
	logger.V(2).Info("Added model label")
	return nil
}

// removeLabel drops the label if present. The Pod is re-read immediately
// before the write.
func (r *ServerReconciler) removeLabel(ctx context.Context, key string) error {
	logger := klog.FromContext(ctx).WithValues("pod", r.podName, "label", key)
	pod, err := r.core.Pods(r.namespace).Get(ctx, r.podName, metav1.GetOptions{})
	if err != nil {
		return &LabelMutationError{Pod: r.podName, Key: key, Err: err}
	}
	if _, have := pod.Labels[key]; !have {
		logger.V(3).Info("Model label not present")
		return nil
	}
	if err := r.patchLabel(ctx, key, ""); err != nil {
		return err
	}
	logger.V(2).Info("Removed model label")
	return nil
}

// patchLabel applies a strategic merge patch setting or, for an empty
// value, deleting one label key.
func (r *ServerReconciler) patchLabel(ctx context.Context, key, value string) error {
	var valuePtr *string
	if value != "" {
		valuePtr = &value
	}
	patch, err := json.Marshal(map[string]any{
		"metadata": map[string]any{
			"labels": map[string]*string{key: valuePtr},
		},
	})
	if err != nil { // impossible
		return &LabelMutationError{Pod: r.podName, Key: key, Err: err}
	}
	_, err = r.core.Pods(r.namespace).Patch(ctx, r.podName, types.StrategicMergePatchType, patch, metav1.PatchOptions{})
	if err != nil {
		return &LabelMutationError{Pod: r.podName, Key: key, Err: err}
	}
	return nil
}
