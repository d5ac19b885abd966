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

// Package common holds small helpers shared by the commands.
package common

import (
	"github.com/spf13/pflag"
	"k8s.io/client-go/tools/clientcmd"
)

// AddKubernetesClientFlags registers the standard kubeconfig selection
// flags on the given flag set, skipping any already registered.
func AddKubernetesClientFlags(flags *pflag.FlagSet, loadingRules *clientcmd.ClientConfigLoadingRules, overrides *clientcmd.ConfigOverrides) {
	if loadingRules == nil || overrides == nil {
		return
	}

	if flags.Lookup("kubeconfig") == nil {
		flags.StringVar(&loadingRules.ExplicitPath, "kubeconfig", loadingRules.ExplicitPath, "Path to the kubeconfig file to use")
	}
	if flags.Lookup("context") == nil {
		flags.StringVar(&overrides.CurrentContext, "context", overrides.CurrentContext, "The name of the kubeconfig context to use")
	}
	if flags.Lookup("user") == nil {
		flags.StringVar(&overrides.Context.AuthInfo, "user", overrides.Context.AuthInfo, "The name of the kubeconfig user to use")
	}
	if flags.Lookup("cluster") == nil {
		flags.StringVar(&overrides.Context.Cluster, "cluster", overrides.Context.Cluster, "The name of the kubeconfig cluster to use")
	}
}
