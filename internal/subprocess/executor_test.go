package subprocess

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/planweave/planweave/internal/skills"
)

// scriptSkill writes an executable entry script and returns a Skill
// pointing at it.
func scriptSkill(t *testing.T, name, script string) *skills.Skill {
	t.Helper()
	dir := t.TempDir()
	scriptsDir := filepath.Join(dir, "scripts")
	if err := os.MkdirAll(scriptsDir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(scriptsDir, "test_skill.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755); err != nil {
		t.Fatal(err)
	}
	return &skills.Skill{Name: name, Path: dir, EntryScript: path}
}

func TestExecuteParsesJSONOutput(t *testing.T) {
	skill := scriptSkill(t, "echoer", `cat >/dev/null
echo '{"success": true, "ics": "BEGIN:VCALENDAR"}'
`)
	ex := NewExecutor(nil)
	res, err := ex.Execute(context.Background(), Request{
		Skill:      skill,
		Command:    "natural_language_to_ics",
		Parameters: map[string]interface{}{"query": "meeting at 2pm"},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.Success {
		t.Fatalf("Success = false, error = %q", res.Error)
	}
	obj, ok := res.Output.(map[string]interface{})
	if !ok {
		t.Fatalf("Output type %T, want map", res.Output)
	}
	if obj["ics"] != "BEGIN:VCALENDAR" {
		t.Errorf("Output = %v", obj)
	}
	if res.ExitCode != 0 {
		t.Errorf("ExitCode = %d", res.ExitCode)
	}
}

func TestExecutePassesRequestOnStdin(t *testing.T) {
	skill := scriptSkill(t, "reader", `input=$(cat)
echo "{\"success\": true, \"received\": $(printf '%s' "$input" | wc -c)}"
`)
	ex := NewExecutor(nil)
	res, err := ex.Execute(context.Background(), Request{
		Skill:      skill,
		Command:    "generate_ideas",
		Parameters: map[string]interface{}{"topic": "testing", "num_ideas": 3},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.Success {
		t.Fatalf("Success = false, error = %q", res.Error)
	}
	obj := res.Output.(map[string]interface{})
	if n, _ := obj["received"].(float64); n == 0 {
		t.Error("child saw empty stdin")
	}
}

func TestExecuteApplicationFailure(t *testing.T) {
	skill := scriptSkill(t, "failer", `cat >/dev/null
echo '{"success": false, "error": "no such calendar"}'
`)
	ex := NewExecutor(nil)
	res, err := ex.Execute(context.Background(), Request{Skill: skill, Command: "x"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Success {
		t.Error("Success = true for application failure")
	}
	if res.Error != "no such calendar" {
		t.Errorf("Error = %q", res.Error)
	}
}

func TestExecutePlainTextSuccess(t *testing.T) {
	skill := scriptSkill(t, "plain", `cat >/dev/null
echo "just some text"
`)
	ex := NewExecutor(nil)
	res, err := ex.Execute(context.Background(), Request{Skill: skill, Command: "x"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.Success {
		t.Fatalf("Success = false, error = %q", res.Error)
	}
	if res.Output != "just some text" {
		t.Errorf("Output = %v", res.Output)
	}
}

func TestExecuteNonZeroExit(t *testing.T) {
	skill := scriptSkill(t, "crasher", `cat >/dev/null
echo "boom" >&2
exit 3
`)
	ex := NewExecutor(nil)
	res, err := ex.Execute(context.Background(), Request{Skill: skill, Command: "x"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Success {
		t.Error("Success = true for non-zero exit")
	}
	if res.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", res.ExitCode)
	}
	if !strings.Contains(res.Error, "boom") {
		t.Errorf("Error = %q, want stderr content", res.Error)
	}
	if res.Stderr != "boom" {
		t.Errorf("Stderr = %q, want %q", res.Stderr, "boom")
	}
}

func TestExecuteNonZeroExitWithSuccessTrue(t *testing.T) {
	// Explicit success:true on stdout overrides the exit code.
	skill := scriptSkill(t, "oddball", `cat >/dev/null
echo '{"success": true, "output": "done"}'
exit 1
`)
	ex := NewExecutor(nil)
	res, err := ex.Execute(context.Background(), Request{Skill: skill, Command: "x"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.Success {
		t.Errorf("Success = false, want true when child reports success")
	}
}

func TestExecuteTimeout(t *testing.T) {
	skill := scriptSkill(t, "sleeper", `cat >/dev/null
sleep 30
`)
	ex := NewExecutor(nil)
	start := time.Now()
	res, err := ex.Execute(context.Background(), Request{
		Skill:   skill,
		Command: "x",
		Timeout: 200 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Success {
		t.Error("Success = true for timed-out call")
	}
	if res.Error != "timeout" {
		t.Errorf("Error = %q, want %q", res.Error, "timeout")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("timeout took %v, child not reaped promptly", elapsed)
	}
}

func TestExecuteCancellation(t *testing.T) {
	skill := scriptSkill(t, "sleeper", `cat >/dev/null
sleep 30
`)
	ex := NewExecutor(nil)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()
	res, err := ex.Execute(ctx, Request{Skill: skill, Command: "x", Timeout: time.Minute})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Success {
		t.Error("Success = true for cancelled call")
	}
	if res.Error != "cancelled" {
		t.Errorf("Error = %q, want %q", res.Error, "cancelled")
	}
}

func TestExecuteCallerErrors(t *testing.T) {
	ex := NewExecutor(nil)
	if _, err := ex.Execute(context.Background(), Request{}); err == nil {
		t.Error("Execute accepted a nil skill")
	}
	if _, err := ex.Execute(context.Background(), Request{Skill: &skills.Skill{Name: "x"}}); err == nil {
		t.Error("Execute accepted a skill without an entry script")
	}
}

func TestPoolSizeBounds(t *testing.T) {
	if n := poolSize(); n < 1 || n > maxWorkers {
		t.Errorf("poolSize() = %d, want within [1, %d]", n, maxWorkers)
	}
}
