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

package api

// A SONIC deployment runs a fleet of Triton inference-server Pods behind
// per-model headless Services. Discovery is label-driven: a Pod carries the
// label "sonic.model.loaded/<name>-v<version>": "true" exactly when it is
// currently able to serve that model at that version. This package holds the
// wire-level constants shared by the synchronizer, the aggregator, and the
// discovery publisher.

// ModelLoadedLabelPrefix is the namespace prefix of the per-model Pod label.
// The full key is the prefix followed by the escaped full model name
// (see pkg/labels). The value is always the literal string "true"; absence
// of the key means the model is not servable on that Pod.
const ModelLoadedLabelPrefix = "sonic.model.loaded/"

// ModelLoadedLabelValue is the only value ever written for a model label.
const ModelLoadedLabelValue = "true"

// Selector labels identifying the Triton server Pods of one release.
const (
	NameLabelKey      = "app.kubernetes.io/name"
	InstanceLabelKey  = "app.kubernetes.io/instance"
	ComponentLabelKey = "app.kubernetes.io/component"

	NameLabelValue      = "supersonic"
	ComponentLabelValue = "triton"
)

// Ports exposed by every Triton server Pod.
const (
	// HTTPPort serves the v2 repository/model control API.
	HTTPPort = 8000
	// GRPCPort serves the gRPC inference API. The synchronizer never talks
	// to it, but the discovery Services route it.
	GRPCPort = 8001
	// MetricsPort serves the Prometheus exposition endpoint.
	MetricsPort = 8002
)

// DeploymentSuffix is appended to the release name to form the name of the
// Deployment that owns the Triton server Pods.
const DeploymentSuffix = "-triton"
