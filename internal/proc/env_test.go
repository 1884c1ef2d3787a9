package proc

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestMergeSearchPath(t *testing.T) {
	sep := string(filepath.ListSeparator)

	tests := []struct {
		name     string
		dirs     []string
		existing string
		want     []string
	}{
		{
			name: "dirs only",
			dirs: []string{"/a", "/b"},
			want: []string{"/a", "/b"},
		},
		{
			name:     "existing entries appended",
			dirs:     []string{"/new"},
			existing: strings.Join([]string{"/old1", "/old2"}, sep),
			want:     []string{"/new", "/old1", "/old2"},
		},
		{
			name:     "duplicates dropped",
			dirs:     []string{"/shared", "/shared", "/only"},
			existing: strings.Join([]string{"/shared", "/tail"}, sep),
			want:     []string{"/shared", "/only", "/tail"},
		},
		{
			name:     "empty entries dropped",
			dirs:     []string{"", "/a"},
			existing: sep + "/b",
			want:     []string{"/a", "/b"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MergeSearchPath(tt.dirs, tt.existing)
			if got != strings.Join(tt.want, sep) {
				t.Errorf("MergeSearchPath = %q, want %q", got, strings.Join(tt.want, sep))
			}
		})
	}
}

func TestBuildEnv(t *testing.T) {
	t.Setenv("BOXPOOL_PATH", "/existing")
	t.Setenv("KEEP_ME", "yes")

	spec := Spec{
		Env:         map[string]string{"EXTRA": "1", "KEEP_ME": "overridden"},
		SearchPaths: []string{"/lib1", "/lib2"},
	}
	env := buildEnv(spec, false)

	got := envMap(env)
	sep := string(filepath.ListSeparator)
	if want := "/lib1" + sep + "/lib2" + sep + "/existing"; got["BOXPOOL_PATH"] != want {
		t.Errorf("BOXPOOL_PATH = %q, want %q", got["BOXPOOL_PATH"], want)
	}
	if got["EXTRA"] != "1" {
		t.Errorf("EXTRA = %q", got["EXTRA"])
	}
	if got["KEEP_ME"] != "overridden" {
		t.Errorf("spec env should overlay parent env, KEEP_ME = %q", got["KEEP_ME"])
	}
	if _, ok := got[EnvStdio]; ok {
		t.Error("stdio marker should not be set in fd mode")
	}
}

func TestBuildEnvStdioMarker(t *testing.T) {
	env := buildEnv(Spec{}, true)
	if envMap(env)[EnvStdio] != "1" {
		t.Errorf("%s should be 1 in stdio mode", EnvStdio)
	}
}

func TestBuildEnvCustomPathVar(t *testing.T) {
	t.Setenv("MY_PATH", "/pre")
	env := buildEnv(Spec{PathVar: "MY_PATH", SearchPaths: []string{"/x"}}, false)
	sep := string(filepath.ListSeparator)
	if got := envMap(env)["MY_PATH"]; got != "/x"+sep+"/pre" {
		t.Errorf("MY_PATH = %q", got)
	}
}

func envMap(env []string) map[string]string {
	m := make(map[string]string, len(env))
	for _, kv := range env {
		if k, v, ok := strings.Cut(kv, "="); ok {
			m[k] = v
		}
	}
	return m
}
