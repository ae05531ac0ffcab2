package processing

import (
	"maps"
	"slices"
	"strings"
)

// EnvMap parses KEY=VALUE pairs as returned by os.Environ. Later entries win.
func EnvMap(environ []string) map[string]string {
	env := make(map[string]string, len(environ))
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		env[k] = v
	}
	return env
}

// MergeEnv performs a shallow merge of the layers in order; later layers override earlier ones.
func MergeEnv(layers ...map[string]string) map[string]string {
	size := 0
	for _, l := range layers {
		size += len(l)
	}
	merged := make(map[string]string, size)
	for _, l := range layers {
		maps.Copy(merged, l)
	}
	return merged
}

// Environ renders env as sorted KEY=VALUE pairs.
func Environ(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for _, k := range slices.Sorted(maps.Keys(env)) {
		out = append(out, k+"="+env[k])
	}
	return out
}
