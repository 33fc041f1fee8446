// SPDX-License-Identifier: AGPL-3.0-or-later
package executor

import (
	"fmt"
	"os"
	"sort"
	"strings"
)

func upsertEnv(env []string, key, value string) []string {
	prefix := key + "="
	for i, kv := range env {
		if strings.HasPrefix(kv, prefix) {
			env[i] = prefix + value
			return env
		}
	}
	return append(env, prefix+value)
}

// buildEnv layers configured values and per-command overrides over the
// parent environment. Without inherit only PATH, HOME and the explicit values
// reach the child; the interpreter cannot locate itself without them.
func buildEnv(configured map[string]string, overrides []string, inherit bool) []string {
	type entry struct {
		key string
		val string
	}
	ordered := make([]entry, 0)
	envSet := make(map[string]string)
	set := func(k, v string) {
		if _, exists := envSet[k]; !exists {
			ordered = append(ordered, entry{key: k, val: v})
		}
		envSet[k] = v
	}

	if inherit {
		for _, kv := range os.Environ() {
			parts := strings.SplitN(kv, "=", 2)
			if len(parts) != 2 {
				continue
			}
			set(parts[0], parts[1])
		}
	} else {
		for _, key := range []string{"PATH", "HOME", "SYSTEMROOT"} {
			if v := os.Getenv(key); v != "" {
				set(key, v)
			}
		}
	}

	keys := make([]string, 0, len(configured))
	for k := range configured {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		set(k, configured[k])
	}

	env := make([]string, 0, len(ordered))
	for _, e := range ordered {
		env = append(env, fmt.Sprintf("%s=%s", e.key, envSet[e.key]))
	}
	for _, kv := range overrides {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 || parts[0] == "" {
			continue
		}
		env = upsertEnv(env, parts[0], parts[1])
	}
	return env
}
