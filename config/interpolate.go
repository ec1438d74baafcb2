/*
Copyright 2017 The Kubernetes Authors.

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

package config

import (
	"os"
	"regexp"
)

// envPattern matches ${NAME} and ${NAME:-default}. NAME follows the usual
// shell identifier rule (letters, digits, underscore, not starting with a
// digit); default may be empty but not contain "}".
var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// interpolateEnv replaces every ${NAME} or ${NAME:-default} occurrence in s
// with the environment variable's value, or default when the variable is
// unset. An unset variable with no default is replaced with an empty
// string, matching common shell behavior for unquoted expansion.
func interpolateEnv(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		groups := envPattern.FindStringSubmatch(match)
		name, hasDefault, def := groups[1], groups[2], groups[3]
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		if hasDefault != "" {
			return def
		}
		return ""
	})
}
