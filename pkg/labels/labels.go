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

// Package labels maps model identities to Pod label keys and back.
// All functions are pure and total.
package labels

import (
	"regexp"
	"strings"

	"github.com/fastmachinelearning/sonic-sync/pkg/api"
)

// trailingVersionRE matches a trailing "-v<digits>" suffix. Only a trailing
// suffix counts: "model-with-v2-in-name-v1" parses as
// ("model-with-v2-in-name", "1").
var trailingVersionRE = regexp.MustCompile(`^(.*?)-v(\d+)$`)

// Escape makes a model name usable inside a label key: lower-cased, with
// underscores replaced by hyphens.
//
// Known limitation: names differing only in case or underscore usage escape
// to the same key. Model repositories are expected not to contain such pairs.
func Escape(name string) string {
	return strings.ReplaceAll(strings.ToLower(name), "_", "-")
}

// Key returns the label key advertising that the model with the given name
// is loaded at the given version.
func Key(name, version string) string {
	return KeyForFullName(name + "-v" + version)
}

// KeyForFullName returns the label key for an already fully qualified
// "<name>-v<version>" model name.
func KeyForFullName(fullName string) string {
	return api.ModelLoadedLabelPrefix + Escape(fullName)
}

// ParseFullName splits a full model name into base name and version.
// A name without a trailing "-v<digits>" suffix defaults to version "1".
func ParseFullName(fullName string) (string, string) {
	if m := trailingVersionRE.FindStringSubmatch(fullName); m != nil {
		return m[1], m[2]
	}
	return fullName, "1"
}
