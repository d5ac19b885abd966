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

package labels

import "testing"

func TestParseFullName(t *testing.T) {
	tests := []struct {
		name        string
		fullName    string
		wantBase    string
		wantVersion string
	}{
		{
			name:        "trailing version suffix",
			fullName:    "my-model-v1",
			wantBase:    "my-model",
			wantVersion: "1",
		},
		{
			name:        "version-like substring in the middle",
			fullName:    "model-with-v2-in-name-v1",
			wantBase:    "model-with-v2-in-name",
			wantVersion: "1",
		},
		{
			name:        "no version suffix defaults to 1",
			fullName:    "model-without-version",
			wantBase:    "model-without-version",
			wantVersion: "1",
		},
		{
			name:        "multi-digit version",
			fullName:    "deepmet-v12",
			wantBase:    "deepmet",
			wantVersion: "12",
		},
		{
			name:        "suffix with non-digit version is not a suffix",
			fullName:    "model-vX",
			wantBase:    "model-vX",
			wantVersion: "1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base, version := ParseFullName(tt.fullName)
			if base != tt.wantBase || version != tt.wantVersion {
				t.Errorf("ParseFullName(%q) = (%q, %q), want (%q, %q)",
					tt.fullName, base, version, tt.wantBase, tt.wantVersion)
			}
		})
	}
}

func TestParseFullNameRoundTrip(t *testing.T) {
	pairs := []struct{ base, version string }{
		{"deepmet", "1"},
		{"particlenet", "2"},
		{"model-with-v3-inside", "7"},
	}
	for _, p := range pairs {
		full := p.base + "-v" + p.version
		base, version := ParseFullName(full)
		if base != p.base || version != p.version {
			t.Errorf("round trip of (%q, %q) via %q got (%q, %q)",
				p.base, p.version, full, base, version)
		}
	}
}

func TestKey(t *testing.T) {
	tests := []struct {
		name    string
		model   string
		version string
		want    string
	}{
		{
			name:    "plain name",
			model:   "deepmet",
			version: "1",
			want:    "sonic.model.loaded/deepmet-v1",
		},
		{
			name:    "underscores and upper case are escaped",
			model:   "Deep_MET",
			version: "2",
			want:    "sonic.model.loaded/deep-met-v2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Key(tt.model, tt.version)
			if got != tt.want {
				t.Errorf("Key(%q, %q) = %q, want %q", tt.model, tt.version, got, tt.want)
			}
			if again := Key(tt.model, tt.version); again != got {
				t.Errorf("Key is not deterministic: %q then %q", got, again)
			}
		})
	}
}

func TestKeyForFullName(t *testing.T) {
	if got, want := KeyForFullName("DeepMET-v1"), "sonic.model.loaded/deepmet-v1"; got != want {
		t.Errorf("KeyForFullName = %q, want %q", got, want)
	}
}
