package proc

import (
	"os"
	"path/filepath"
	"strings"
)

// buildEnv computes the child environment: parent environment overlaid with
// spec.Env, plus the merged search-path variable.
func buildEnv(spec Spec, useStdio bool) []string {
	merged := make(map[string]string)
	var order []string
	put := func(key, val string) {
		if _, seen := merged[key]; !seen {
			order = append(order, key)
		}
		merged[key] = val
	}

	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			put(k, v)
		}
	}
	for k, v := range spec.Env {
		put(k, v)
	}

	pathVar := spec.PathVar
	if pathVar == "" {
		pathVar = DefaultPathVar
	}
	if len(spec.SearchPaths) > 0 || merged[pathVar] != "" {
		put(pathVar, MergeSearchPath(spec.SearchPaths, merged[pathVar]))
	}
	if useStdio {
		put(EnvStdio, "1")
	}

	env := make([]string, 0, len(order))
	for _, k := range order {
		env = append(env, k+"="+merged[k])
	}
	return env
}

// MergeSearchPath combines configured directories with a pre-existing
// search-path value: configured dirs first, existing entries appended,
// duplicates dropped.
func MergeSearchPath(dirs []string, existing string) string {
	sep := string(filepath.ListSeparator)
	seen := make(map[string]bool)
	var out []string
	add := func(entry string) {
		if entry == "" || seen[entry] {
			return
		}
		seen[entry] = true
		out = append(out, entry)
	}
	for _, d := range dirs {
		add(d)
	}
	for _, e := range strings.Split(existing, sep) {
		add(e)
	}
	return strings.Join(out, sep)
}
