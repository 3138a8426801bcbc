// Package subprocess runs skill entry scripts under the JSON
// stdin/stdout contract with per-call timeouts and bounded parallelism.
package subprocess

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"runtime"
	"syscall"
	"time"

	"github.com/planweave/planweave/internal/logging"
	"github.com/planweave/planweave/internal/skills"
)

const (
	// DefaultTimeout bounds a skill call when the caller does not set one.
	DefaultTimeout = 30 * time.Second
	// MaxTimeout is the hard ceiling for a single skill call.
	MaxTimeout = 120 * time.Second
	// killGrace is how long a child gets between SIGTERM and SIGKILL.
	killGrace = 2 * time.Second
	// maxWorkers caps the worker pool regardless of CPU count.
	maxWorkers = 8
)

// Request is one skill invocation.
type Request struct {
	Skill      *skills.Skill
	Command    string
	Parameters map[string]interface{}
	// Timeout overrides DefaultTimeout; values above MaxTimeout are
	// clamped.
	Timeout time.Duration
}

// Result is the outcome of one skill invocation. Errors are data: the
// executor never panics and only returns a Go error for caller mistakes
// (nil skill, missing entry script).
type Result struct {
	Success  bool          `json:"success"`
	Output   interface{}   `json:"output,omitempty"`
	Error    string        `json:"error,omitempty"`
	Stderr   string        `json:"stderr,omitempty"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration"`
}

// wireRequest is the JSON object written to the child's stdin.
type wireRequest struct {
	Command    string                 `json:"command"`
	Parameters map[string]interface{} `json:"parameters"`
}

// Executor runs skill subprocesses. It is safe for concurrent use;
// parallelism is bounded by a worker pool sized min(2*CPU, 8).
type Executor struct {
	sem chan struct{}
	log *logging.Logger
}

// NewExecutor creates an Executor.
func NewExecutor(log *logging.Logger) *Executor {
	if log == nil {
		log = logging.New()
	}
	return &Executor{
		sem: make(chan struct{}, poolSize()),
		log: log.WithComponent("subprocess"),
	}
}

func poolSize() int {
	n := runtime.NumCPU() * 2
	if n > maxWorkers {
		n = maxWorkers
	}
	if n < 1 {
		n = 1
	}
	return n
}

// Execute runs the skill's entry script with `--json`, writes the
// request to stdin, and interprets stdout per the protocol. Deadline
// expiry terminates the child's process group and yields a timeout
// Result. Only protocol-level failures surface in the Result; a nil
// skill or absent entry script is a caller error.
func (e *Executor) Execute(ctx context.Context, req Request) (*Result, error) {
	if req.Skill == nil {
		return nil, fmt.Errorf("subprocess: nil skill")
	}
	if req.Skill.EntryScript == "" {
		return nil, fmt.Errorf("subprocess: skill %q has no entry script", req.Skill.Name)
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if timeout > MaxTimeout {
		timeout = MaxTimeout
	}

	// Acquire a worker slot; queued calls wait here.
	select {
	case e.sem <- struct{}{}:
		defer func() { <-e.sem }()
	case <-ctx.Done():
		return &Result{Success: false, Error: "cancelled", ExitCode: -1}, nil
	}

	e.log.SkillCall(req.Skill.Name, req.Command)
	start := time.Now()
	result := e.run(ctx, req, timeout)
	result.Duration = time.Since(start)
	var errForLog error
	if !result.Success {
		errForLog = fmt.Errorf("%s", result.Error)
	}
	e.log.SkillResult(req.Skill.Name, req.Command, result.Duration, errForLog)
	return result, nil
}

func (e *Executor) run(ctx context.Context, req Request, timeout time.Duration) *Result {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	input, err := json.Marshal(wireRequest{
		Command:    req.Command,
		Parameters: req.Parameters,
	})
	if err != nil {
		return &Result{Success: false, Error: fmt.Sprintf("marshal request: %v", err), ExitCode: -1}
	}

	cmd := exec.Command(req.Skill.EntryScript, "--json")
	cmd.Dir = req.Skill.Path
	cmd.Stdin = bytes.NewReader(input)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// Children get their own process group so a timeout kill reaps the
	// whole tree, not just the direct child.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return &Result{Success: false, Error: fmt.Sprintf("start: %v", err), ExitCode: -1}
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var waitErr error
	timedOut := false
	select {
	case waitErr = <-done:
	case <-callCtx.Done():
		timedOut = ctx.Err() == nil
		terminate(cmd)
		waitErr = <-done
	}

	exitCode := 0
	if waitErr != nil {
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}

	if timedOut {
		return &Result{Success: false, Error: "timeout", Stderr: trimmed(stderr.Bytes()), ExitCode: exitCode}
	}
	if ctx.Err() != nil {
		return &Result{Success: false, Error: "cancelled", Stderr: trimmed(stderr.Bytes()), ExitCode: exitCode}
	}

	return interpretOutput(stdout.Bytes(), stderr.Bytes(), exitCode, waitErr)
}

// terminate sends SIGTERM to the child's process group, escalating to
// SIGKILL after the grace period.
func terminate(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	pgid := -cmd.Process.Pid
	syscall.Kill(pgid, syscall.SIGTERM)

	deadline := time.After(killGrace)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-deadline:
			syscall.Kill(pgid, syscall.SIGKILL)
			return
		case <-tick.C:
			// Signal 0 probes group existence without delivering.
			if err := syscall.Kill(pgid, 0); err != nil {
				return
			}
		}
	}
}

// interpretOutput applies the protocol rules: stdout parses as JSON, or
// the raw text is wrapped in an output field. Non-zero exit means
// failure unless the child explicitly reported success:true.
func interpretOutput(stdout, stderr []byte, exitCode int, waitErr error) *Result {
	text := bytes.TrimSpace(stdout)

	var parsed interface{}
	jsonOK := len(text) > 0 && json.Unmarshal(text, &parsed) == nil

	if jsonOK {
		success := exitCode == 0
		errMsg := ""
		if obj, ok := parsed.(map[string]interface{}); ok {
			if s, ok := obj["success"].(bool); ok {
				success = s
			}
			if msg, ok := obj["error"].(string); ok {
				errMsg = msg
			}
		}
		if !success && errMsg == "" {
			errMsg = failureMessage(exitCode, stderr, waitErr)
		}
		return &Result{Success: success, Output: parsed, Error: errMsg, Stderr: trimmed(stderr), ExitCode: exitCode}
	}

	// Plain-text fallback: a clean exit with non-empty stdout counts as
	// success, anything else is a failure carrying the raw text.
	if exitCode == 0 && len(text) > 0 {
		return &Result{Success: true, Output: string(text), Stderr: trimmed(stderr), ExitCode: 0}
	}
	return &Result{
		Success:  false,
		Output:   string(text),
		Error:    failureMessage(exitCode, stderr, waitErr),
		Stderr:   trimmed(stderr),
		ExitCode: exitCode,
	}
}

func trimmed(b []byte) string {
	return string(bytes.TrimSpace(b))
}

func failureMessage(exitCode int, stderr []byte, waitErr error) string {
	if msg := bytes.TrimSpace(stderr); len(msg) > 0 {
		return fmt.Sprintf("exit %d: %s", exitCode, msg)
	}
	if waitErr != nil {
		return waitErr.Error()
	}
	if exitCode != 0 {
		return fmt.Sprintf("exit %d", exitCode)
	}
	return "empty output"
}
