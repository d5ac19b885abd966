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

package discovery

import (
	"context"
	"testing"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"
)

func getService(t *testing.T, clientset *fake.Clientset, name string) *corev1.Service {
	t.Helper()
	svc, err := clientset.CoreV1().Services("cms").Get(context.Background(), name, metav1.GetOptions{})
	if err != nil {
		t.Fatalf("Get Service %q: %v", name, err)
	}
	return svc
}

func TestPublishCreatesHeadlessService(t *testing.T) {
	clientset := fake.NewClientset()
	p := NewPublisher(clientset.CoreV1(), "supersonic", "cms")

	if err := p.Publish(context.Background(), "deepmet-v2"); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	svc := getService(t, clientset, "supersonic-deepmet-v2")
	if svc.Spec.ClusterIP != corev1.ClusterIPNone {
		t.Errorf("ClusterIP = %q, want headless (%q)", svc.Spec.ClusterIP, corev1.ClusterIPNone)
	}
	if got := svc.Spec.Selector["sonic.model.loaded/deepmet-v2"]; got != "true" {
		t.Errorf("selector[sonic.model.loaded/deepmet-v2] = %q, want \"true\"; selector: %v", got, svc.Spec.Selector)
	}
	if got := svc.Spec.Selector["app.kubernetes.io/instance"]; got != "supersonic" {
		t.Errorf("selector[app.kubernetes.io/instance] = %q, want \"supersonic\"", got)
	}
	if svc.Annotations["meta.helm.sh/release-name"] != "supersonic" {
		t.Errorf("annotations = %v, want the helm release-name carried", svc.Annotations)
	}
	if len(svc.Spec.Ports) != 3 {
		t.Errorf("ports = %v, want http, grpc and metrics", svc.Spec.Ports)
	}
}

func TestPublishEscapesModelNameInSelector(t *testing.T) {
	clientset := fake.NewClientset()
	p := NewPublisher(clientset.CoreV1(), "supersonic", "cms")

	if err := p.Publish(context.Background(), "Particle_Net-v1"); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	svc := getService(t, clientset, "supersonic-particle-net-v1")
	if got := svc.Spec.Selector["sonic.model.loaded/particle-net-v1"]; got != "true" {
		t.Errorf("selector = %v, want the escaped model label key", svc.Spec.Selector)
	}
}

func TestPublishIsIdempotent(t *testing.T) {
	clientset := fake.NewClientset()
	p := NewPublisher(clientset.CoreV1(), "supersonic", "cms")

	for i := 0; i < 2; i++ {
		if err := p.Publish(context.Background(), "deepmet-v2"); err != nil {
			t.Fatalf("Publish() pass %d error = %v", i, err)
		}
	}

	svc := getService(t, clientset, "supersonic-deepmet-v2")
	if got := svc.Spec.Selector["sonic.model.loaded/deepmet-v2"]; got != "true" {
		t.Errorf("selector after re-publish = %v, want the model label retained", svc.Spec.Selector)
	}
}

func TestPublishRepairsDriftedService(t *testing.T) {
	drifted := &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{Name: "supersonic-deepmet-v2", Namespace: "cms"},
		Spec: corev1.ServiceSpec{
			ClusterIP: corev1.ClusterIPNone,
			Selector:  map[string]string{"app": "wrong"},
		},
	}
	clientset := fake.NewClientset(drifted)
	p := NewPublisher(clientset.CoreV1(), "supersonic", "cms")

	if err := p.Publish(context.Background(), "deepmet-v2"); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	svc := getService(t, clientset, "supersonic-deepmet-v2")
	if _, have := svc.Spec.Selector["app"]; have {
		t.Errorf("stale selector entry survived the update: %v", svc.Spec.Selector)
	}
	if got := svc.Spec.Selector["sonic.model.loaded/deepmet-v2"]; got != "true" {
		t.Errorf("selector = %v, want the model label restored", svc.Spec.Selector)
	}
}
