// SPDX-License-Identifier: AGPL-3.0-or-later

package paths

import (
	"path/filepath"
	"runtime"
	"testing"
)

func TestDataDirPrecedence(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("posix layout")
	}
	t.Cleanup(func() { SetDataDirOverride("") })

	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv(envDataDir, "")
	t.Setenv(envXDGDataHome, "")
	if got, want := DataDir(), filepath.Join(home, ".local", "share", "modelport"); got != want {
		t.Fatalf("home default = %q, want %q", got, want)
	}

	xdg := t.TempDir()
	t.Setenv(envXDGDataHome, xdg)
	if got, want := DataDir(), filepath.Join(xdg, "modelport"); got != want {
		t.Fatalf("xdg = %q, want %q", got, want)
	}

	explicit := t.TempDir()
	t.Setenv(envDataDir, explicit)
	if got := DataDir(); got != explicit {
		t.Fatalf("env = %q, want %q", got, explicit)
	}

	pinned := filepath.Join(t.TempDir(), "pinned")
	SetDataDirOverride(pinned + "/")
	if got := DataDir(); got != pinned {
		t.Fatalf("override = %q, want %q", got, pinned)
	}
}

func TestEnsureDataPathCreatesDirectory(t *testing.T) {
	t.Cleanup(func() { SetDataDirOverride("") })
	SetDataDirOverride(t.TempDir())
	got, err := EnsureDataPath("nested")
	if err != nil {
		t.Fatalf("EnsureDataPath: %v", err)
	}
	if filepath.Base(got) != "nested" {
		t.Fatalf("unexpected path %q", got)
	}
}
