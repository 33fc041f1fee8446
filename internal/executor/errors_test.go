package executor

import (
	"errors"
	"strings"
	"testing"
)

var errKind = errors.New("installation failed")

func TestCommandErrorUnwrapsKindAndCause(t *testing.T) {
	cmd := Command{Name: "python3", Args: []string{"-m", "pip", "install", "torch"}}
	err := NewCommandError(errKind, cmd, Result{ExitCode: -1}, "", ErrTimedOut)
	if !errors.Is(err, errKind) || !errors.Is(err, ErrTimedOut) {
		t.Fatalf("expected both kind and cause, got %v", err)
	}
	want := "installation failed: process timed out (python3 -m pip install torch)"
	if err.Error() != want {
		t.Fatalf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestCommandErrorDiagnosticsVerbatim(t *testing.T) {
	err := NewCommandError(errKind, Command{Name: "python3"}, Result{ExitCode: 1, Stdout: "collecting torch", Stderr: "error: boom\n"}, "exit status 1", nil)
	diag := err.Diagnostics()
	for _, want := range []string{"exit status: 1", "stdout:\ncollecting torch\n", "stderr:\nerror: boom\n"} {
		if !strings.Contains(diag, want) {
			t.Fatalf("diagnostics missing %q: %q", want, diag)
		}
	}
}

func TestSplitCommand(t *testing.T) {
	name, args, err := SplitCommand(`py -3`)
	if err != nil || name != "py" || len(args) != 1 || args[0] != "-3" {
		t.Fatalf("SplitCommand(py -3) = %q %v %v", name, args, err)
	}
	name, args, err = SplitCommand(`"/opt/my python/bin/python3"`)
	if err != nil || name != "/opt/my python/bin/python3" || len(args) != 0 {
		t.Fatalf("quoted path = %q %v %v", name, args, err)
	}
	if _, _, err := SplitCommand("   "); err == nil {
		t.Fatalf("expected error for blank command")
	}
	if _, _, err := SplitCommand(`"unterminated`); err == nil {
		t.Fatalf("expected error for bad quoting")
	}
}

func TestCommandString(t *testing.T) {
	cmd := Command{Name: "python3", Args: []string{"-c", "print('x')"}}
	if got := cmd.String(); !strings.HasPrefix(got, "python3 -c ") || strings.Count(got, " ") < 2 {
		t.Fatalf("unexpected rendering %q", got)
	}
}
