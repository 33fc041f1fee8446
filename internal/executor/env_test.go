package executor

import (
	"strings"
	"testing"
)

func envValue(env []string, key string) (string, int) {
	var val string
	count := 0
	for _, e := range env {
		if strings.HasPrefix(e, key+"=") {
			val = strings.TrimPrefix(e, key+"=")
			count++
		}
	}
	return val, count
}

func TestBuildEnvStripsParentEnvWithoutInherit(t *testing.T) {
	t.Setenv("UNSAFE_VAR", "value")
	t.Setenv("PATH", "/usr/bin")

	env := buildEnv(map[string]string{"PIP_NO_INPUT": "1"}, nil, false)

	if _, n := envValue(env, "UNSAFE_VAR"); n != 0 {
		t.Fatalf("unexpected parent env in isolated env: %v", env)
	}
	if v, _ := envValue(env, "PATH"); v != "/usr/bin" {
		t.Fatalf("PATH missing from env: %v", env)
	}
	if v, _ := envValue(env, "PIP_NO_INPUT"); v != "1" {
		t.Fatalf("configured value missing: %v", env)
	}
}

func TestBuildEnvInheritHost(t *testing.T) {
	t.Setenv("INHERITED_VAR", "present")
	env := buildEnv(nil, nil, true)
	if v, _ := envValue(env, "INHERITED_VAR"); v != "present" {
		t.Fatalf("expected inherited env in %v", env)
	}
}

func TestBuildEnvConfiguredOverridesParentOnce(t *testing.T) {
	t.Setenv("PIP_INDEX_URL", "https://parent.example/simple")
	env := buildEnv(map[string]string{"PIP_INDEX_URL": "https://mirror.example/simple"}, nil, true)
	v, n := envValue(env, "PIP_INDEX_URL")
	if n != 1 || v != "https://mirror.example/simple" {
		t.Fatalf("expected configured value once, got %q x%d", v, n)
	}
}

func TestBuildEnvCommandOverridesWin(t *testing.T) {
	env := buildEnv(map[string]string{"A": "config"}, []string{"A=command", "B=new", "malformed"}, false)
	if v, n := envValue(env, "A"); v != "command" || n != 1 {
		t.Fatalf("expected command override, got %q x%d", v, n)
	}
	if v, _ := envValue(env, "B"); v != "new" {
		t.Fatalf("expected appended override in %v", env)
	}
	if _, n := envValue(env, "malformed"); n != 0 {
		t.Fatalf("malformed entry leaked: %v", env)
	}
}
