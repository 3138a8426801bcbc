// Package system contains end-to-end tests that exercise the built CLI
// and the process-level protocols.
package system

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// repoDir returns the module root (parent of tests/system).
func repoDir(t *testing.T) string {
	t.Helper()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	return filepath.Dir(filepath.Dir(wd))
}

func TestCLI_Help(t *testing.T) {
	cmd := exec.Command("go", "run", "./cmd/planweave", "--help")
	cmd.Dir = repoDir(t)
	output, _ := cmd.CombinedOutput()

	out := string(output)
	if !strings.Contains(out, "Usage:") {
		t.Errorf("expected usage in help output, got:\n%s", out)
	}
	for _, sub := range []string{"run", "plans", "skills", "watch"} {
		if !strings.Contains(out, sub) {
			t.Errorf("expected %q command in help", sub)
		}
	}
}

func TestCLI_Version(t *testing.T) {
	cmd := exec.Command("go", "run", "./cmd/planweave", "version")
	cmd.Dir = repoDir(t)
	output, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("version failed: %v\n%s", err, output)
	}
	if !strings.Contains(string(output), "planweave version") {
		t.Errorf("expected version output, got: %s", output)
	}
}

func TestCLI_EmptyQueryIsValidationError(t *testing.T) {
	cmd := exec.Command("go", "run", "./cmd/planweave", "run")
	cmd.Dir = repoDir(t)
	cmd.Stdin = strings.NewReader("")
	output, err := cmd.CombinedOutput()
	if err == nil {
		t.Fatalf("expected failure for empty query, got:\n%s", output)
	}
	exitErr, ok := err.(*exec.ExitError)
	if !ok {
		t.Fatalf("expected exit error, got %v", err)
	}
	if exitErr.ExitCode() != 1 {
		t.Errorf("exit code = %d, want 1 for validation failure", exitErr.ExitCode())
	}
	if !strings.Contains(string(output), "empty query") {
		t.Errorf("expected empty-query message, got: %s", output)
	}
}

func TestCLI_PlansListEmptyStore(t *testing.T) {
	workDir := t.TempDir()

	bin := filepath.Join(t.TempDir(), "planweave")
	build := exec.Command("go", "build", "-o", bin, "./cmd/planweave")
	build.Dir = repoDir(t)
	if output, err := build.CombinedOutput(); err != nil {
		t.Fatalf("build failed: %v\n%s", err, output)
	}

	// No config file: defaults create the plan file in the working
	// directory on first use.
	cmd := exec.Command(bin, "plans", "list")
	cmd.Dir = workDir
	output, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("plans list failed: %v\n%s", err, output)
	}
	if !strings.Contains(string(output), "no plans recorded") {
		t.Errorf("expected empty listing, got: %s", output)
	}
}
