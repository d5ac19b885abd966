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

package triton

import (
	"strconv"
	"strings"

	"k8s.io/klog/v2"
)

// Metric names recognized in the exposition text; everything else is ignored.
const (
	gpuMemoryTotalMetric = "nv_gpu_memory_total_bytes"
	gpuMemoryUsedMetric  = "nv_gpu_memory_used_bytes"
	gpuUUIDLabel         = "gpu_uuid"
)

// GPUMemory is the device-memory telemetry of one GPU.
type GPUMemory struct {
	TotalBytes int64
	UsedBytes  int64
	// FreeBytes is derived as total minus used; zero until both have been
	// observed.
	FreeBytes int64
}

// ParseGPUMemory extracts per-GPU memory counters from exposition-format
// telemetry, keyed by the gpu_uuid label. Malformed lines are logged and
// skipped, never fatal.
func ParseGPUMemory(logger klog.Logger, text string) map[string]GPUMemory {
	type counters struct {
		total, used *int64
	}
	seen := map[string]*counters{}

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		name, lbls, value, ok := parseMetricLine(line)
		if !ok {
			logger.V(2).Info("Skipping malformed metric line", "line", line)
			continue
		}
		if name != gpuMemoryTotalMetric && name != gpuMemoryUsedMetric {
			continue
		}
		uuid := lbls[gpuUUIDLabel]
		if uuid == "" {
			continue
		}

		cnt := seen[uuid]
		if cnt == nil {
			cnt = &counters{}
			seen[uuid] = cnt
		}
		v := int64(value)
		if name == gpuMemoryTotalMetric {
			cnt.total = &v
		} else {
			cnt.used = &v
		}
	}

	result := make(map[string]GPUMemory, len(seen))
	for uuid, cnt := range seen {
		mem := GPUMemory{}
		if cnt.total != nil {
			mem.TotalBytes = *cnt.total
		}
		if cnt.used != nil {
			mem.UsedBytes = *cnt.used
		}
		if cnt.total != nil && cnt.used != nil {
			mem.FreeBytes = mem.TotalBytes - mem.UsedBytes
		}
		result[uuid] = mem
	}
	return result
}

// parseMetricLine splits one non-comment exposition line of the shape
//
//	metric_name{label1="v1",label2="v2"} numeric_value
//
// into its parts. Returns ok == false for anything it cannot parse.
func parseMetricLine(line string) (name string, lbls map[string]string, value float64, ok bool) {
	spaceIdx := strings.LastIndex(line, " ")
	if spaceIdx < 0 {
		return "", nil, 0, false
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(line[spaceIdx+1:]), 64)
	if err != nil {
		return "", nil, 0, false
	}

	name = strings.TrimSpace(line[:spaceIdx])
	lbls = map[string]string{}
	if braceIdx := strings.Index(name, "{"); braceIdx >= 0 {
		labelStr := name[braceIdx+1:]
		name = name[:braceIdx]
		labelStr = strings.TrimSuffix(strings.TrimSpace(labelStr), "}")
		for _, pair := range strings.Split(labelStr, ",") {
			if pair == "" {
				continue
			}
			key, val, found := strings.Cut(pair, "=")
			if !found {
				return "", nil, 0, false
			}
			lbls[strings.TrimSpace(key)] = strings.Trim(strings.TrimSpace(val), `"`)
		}
	}
	if name == "" {
		return "", nil, 0, false
	}
	return name, lbls, value, true
}
