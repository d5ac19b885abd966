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

package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/spf13/pflag"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/klog/v2"
	"sigs.k8s.io/yaml"

	"github.com/fastmachinelearning/sonic-sync/pkg/aggregator"
	"github.com/fastmachinelearning/sonic-sync/pkg/common"
	"github.com/fastmachinelearning/sonic-sync/pkg/config"
	"github.com/fastmachinelearning/sonic-sync/pkg/discovery"
	"github.com/fastmachinelearning/sonic-sync/pkg/fleet"
	"github.com/fastmachinelearning/sonic-sync/pkg/reconciler"
	"github.com/fastmachinelearning/sonic-sync/pkg/tunnel"
)

const userAgent = "sonic-sync"

func main() {
	configPath := ""
	loadModel := ""
	unloadModel := ""
	aggregate := false

	klog.InitFlags(flag.CommandLine)
	pflag.CommandLine.AddGoFlagSet(flag.CommandLine)
	pflag.CommandLine.StringVar(&configPath, "config", configPath, "Path to the deployment config file")
	pflag.CommandLine.StringVar(&loadModel, "load", loadModel, "Load the named model on every server, then sync labels")
	pflag.CommandLine.StringVar(&unloadModel, "unload", unloadModel, "Unload the named model on every server, then sync labels")
	pflag.CommandLine.BoolVar(&aggregate, "aggregate", aggregate, "Print the merged model repository of all servers")

	loadingRules := clientcmd.NewDefaultClientConfigLoadingRules()
	overrides := &clientcmd.ConfigOverrides{}
	common.AddKubernetesClientFlags(pflag.CommandLine, loadingRules, overrides)

	pflag.Parse()
	ctx := context.Background()
	logger := klog.FromContext(ctx)

	pflag.CommandLine.VisitAll(func(f *pflag.Flag) {
		logger.V(1).Info("Flag", "name", f.Name, "value", f.Value.String())
	})

	if loadModel != "" && unloadModel != "" {
		klog.Fatal("--load and --unload are mutually exclusive")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		klog.Fatal(err)
	}

	restConfig, err := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(loadingRules, overrides).ClientConfig()
	if err != nil {
		klog.Fatal(err)
	}
	if len(restConfig.UserAgent) == 0 {
		restConfig.UserAgent = userAgent
	} else {
		restConfig.UserAgent += "/" + userAgent
	}
	kubeClient := kubernetes.NewForConfigOrDie(restConfig)

	if err := run(ctx, kubeClient, cfg, loadModel, unloadModel, aggregate); err != nil {
		logger.Error(err, "sync failed")
		os.Exit(1)
	}
}

func run(ctx context.Context, kubeClient kubernetes.Interface, cfg *config.Config, loadModel, unloadModel string, aggregate bool) error {
	logger := klog.FromContext(ctx)

	publisher := discovery.NewPublisher(kubeClient.CoreV1(), cfg.ReleaseName, cfg.Namespace)
	for _, model := range cfg.Models {
		if err := publisher.Publish(ctx, model); err != nil {
			return err
		}
	}

	directory := fleet.NewDirectory(kubeClient, cfg.ReleaseName, cfg.Namespace)
	if _, err := directory.GetDeployment(ctx); err != nil {
		return err
	}
	pods, err := directory.ListServers(ctx)
	if err != nil {
		return err
	}
	if len(pods) == 0 {
		logger.Info("No server pods found", "release", cfg.ReleaseName, "namespace", cfg.Namespace)
		return nil
	}

	forward := &tunnel.Forwarder{
		Namespace:   cfg.Namespace,
		KubectlPath: cfg.KubectlPath,
		SettleDelay: cfg.SettleDelay,
	}
	servers := make([]*reconciler.ServerReconciler, 0, len(pods))
	for _, pod := range pods {
		r := reconciler.New(kubeClient.CoreV1(), forward, cfg.Namespace, pod.Name).
			WithPorts(cfg.HTTPPort, cfg.MetricsPort)
		servers = append(servers, r)
	}

	// Per-server failures are logged and the rest of the fleet still gets
	// synced; the command fails if any server did.
	failed := 0
	for _, r := range servers {
		var err error
		switch {
		case loadModel != "":
			err = r.LoadModel(ctx, loadModel)
		case unloadModel != "":
			err = r.UnloadModel(ctx, unloadModel)
		default:
			err = r.SyncLabels(ctx)
		}
		if err != nil {
			logger.Error(err, "Failed to sync server", "pod", r.PodName())
			failed++
		}
	}

	if aggregate {
		sources := make([]aggregator.Source, len(servers))
		for i, r := range servers {
			sources[i] = r
		}
		idx := aggregator.Aggregate(ctx, sources)
		out, err := yaml.Marshal(idx)
		if err != nil {
			return fmt.Errorf("failed to render aggregated repository: %w", err)
		}
		fmt.Print(string(out))
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d servers failed to sync", failed, len(servers))
	}
	return nil
}
