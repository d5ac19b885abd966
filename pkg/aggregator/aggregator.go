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

// Package aggregator merges the repository indices of all servers of a
// deployment into one cluster-wide view. The result is a snapshot with
// per-server skew: servers are queried independently and no ordering among
// them is guaranteed.
package aggregator

import (
	"context"
	"sync"

	"k8s.io/klog/v2"

	"github.com/fastmachinelearning/sonic-sync/pkg/triton"
)

// Source is one queryable model repository, typically a
// reconciler.ServerReconciler.
type Source interface {
	PodName() string
	Models(ctx context.Context) ([]triton.ModelRecord, error)
}

// Index maps a model name to its records, one per distinct version.
// Ordering of models and versions is not meaningful.
type Index map[string][]triton.ModelRecord

// Versions returns the distinct versions recorded for the named model.
func (idx Index) Versions(name string) []string {
	var versions []string
	for _, rec := range idx[name] {
		versions = append(versions, rec.Version)
	}
	return versions
}

// Aggregate queries every source over its own tunnel and merges the
// answers. A failing source is logged and skipped; partial results are
// returned rather than failing the whole aggregation.
//
// Merge rule per model name: records are keyed by version, and an
// unversioned placeholder record survives only if no source reported a
// concrete version for that name.
func Aggregate(ctx context.Context, sources []Source) Index {
	logger := klog.FromContext(ctx)

	type answer struct {
		pod     string
		records []triton.ModelRecord
		err     error
	}
	answers := make(chan answer, len(sources))
	var wg sync.WaitGroup
	for _, src := range sources {
		wg.Add(1)
		go func(src Source) {
			defer wg.Done()
			records, err := src.Models(ctx)
			answers <- answer{pod: src.PodName(), records: records, err: err}
		}(src)
	}
	wg.Wait()
	close(answers)

	byName := map[string]map[string]triton.ModelRecord{}
	for ans := range answers {
		if ans.err != nil {
			logger.Error(ans.err, "Skipping server during aggregation", "pod", ans.pod)
			continue
		}
		for _, rec := range ans.records {
			if rec.Name == "" {
				continue
			}
			byVersion := byName[rec.Name]
			if byVersion == nil {
				byVersion = map[string]triton.ModelRecord{}
				byName[rec.Name] = byVersion
			}
			if _, have := byVersion[rec.Version]; !have {
				byVersion[rec.Version] = rec
			}
		}
	}

	idx := make(Index, len(byName))
	for name, byVersion := range byName {
		if len(byVersion) > 1 {
			// A concrete version supersedes the "known but unspecified"
			// placeholder.
			delete(byVersion, "")
		}
		for _, rec := range byVersion {
			idx[name] = append(idx[name], rec)
		}
	}
	logger.V(2).Info("Aggregated model repositories", "servers", len(sources), "models", len(idx))
	return idx
}
