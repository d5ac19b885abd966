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

// Package config loads the deployment description from a YAML file,
// with environment variable overrides under the SONIC_ prefix.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/fastmachinelearning/sonic-sync/pkg/api"
	"github.com/fastmachinelearning/sonic-sync/pkg/tunnel"
)

// Config describes one SuperSONIC release to keep in sync.
type Config struct {
	// ReleaseName is the helm release owning the Triton Deployment.
	ReleaseName string `mapstructure:"release_name"`
	// Namespace holds the release's Pods and Services.
	Namespace string `mapstructure:"namespace"`
	// Models are the fully qualified model names ("<name>-v<version>")
	// to publish discovery Services for.
	Models []string `mapstructure:"models"`
	// KubectlPath is the kubectl binary used for port-forward tunnels.
	KubectlPath string `mapstructure:"kubectl_path"`
	// HTTPPort is the Triton HTTP control port inside the Pods.
	HTTPPort int `mapstructure:"http_port"`
	// MetricsPort is the Triton Prometheus metrics port inside the Pods.
	MetricsPort int `mapstructure:"metrics_port"`
	// SettleDelay is how long a fresh tunnel must survive before use.
	SettleDelay time.Duration `mapstructure:"settle_delay"`
}

// Load reads the configuration from the given file. An empty path falls
// back to ./config.yaml, and a missing fallback file just yields the
// defaults. Every key can be overridden via SONIC_<KEY> in the
// environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetDefault("release_name", "supersonic")
	v.SetDefault("namespace", "cms")
	v.SetDefault("kubectl_path", "kubectl")
	v.SetDefault("http_port", api.HTTPPort)
	v.SetDefault("metrics_port", api.MetricsPort)
	v.SetDefault("settle_delay", tunnel.DefaultSettleDelay)

	v.SetEnvPrefix("SONIC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %q: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
