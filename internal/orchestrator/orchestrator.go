// Package orchestrator drives plan execution. Two modes exist: the
// stable-prompt mode keeps the system prompt byte-identical across model
// calls and tracks plan state in the plan file, while the baseline mode
// re-injects the full plan text into the prompt on every turn. Both share
// the decomposer, the plan store, and the subprocess executor.
package orchestrator

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/planweave/planweave/internal/llm"
	"github.com/planweave/planweave/internal/planstore"
	"github.com/planweave/planweave/internal/session"
	"github.com/planweave/planweave/internal/subprocess"
)

// Sentinel errors used to classify fatal run failures.
var (
	// ErrLLM marks a model call that failed after all retries.
	ErrLLM = errors.New("llm failure")
	// ErrSubprocess marks an executor failure that could not be recorded
	// as step data (for example a skill with no entry script).
	ErrSubprocess = errors.New("subprocess failure")
	// ErrCancelled marks a run interrupted by its context.
	ErrCancelled = errors.New("run cancelled")
)

const (
	// stepResultLimit bounds step results written back to the plan file.
	stepResultLimit = 200

	// noneStepResult is recorded on the plan when a step declares the
	// request unsupported.
	noneStepResult = "Error: unsupported request"

	// noneReply is what the user sees for an unsupported request.
	noneReply = "I cannot help with that request."
)

// Options tunes a run. The zero value gets sane defaults from fill().
type Options struct {
	// SafeMode restricts the shell helper skill to read-only commands.
	SafeMode bool
	// MaxFindResults caps result counts in file-search commands; zero
	// means no cap.
	MaxFindResults int
	// StepTimeout is the per-subprocess deadline.
	StepTimeout time.Duration
	// MaxLLMCalls caps model calls in the baseline loop.
	MaxLLMCalls int
	// Sessions, when set, gets a JSONL event log per run.
	Sessions *session.FileStore
}

func (o *Options) fill() {
	if o.StepTimeout <= 0 {
		o.StepTimeout = subprocess.DefaultTimeout
	}
	if o.MaxLLMCalls <= 0 {
		o.MaxLLMCalls = 12
	}
}

// Result is what a run hands back to the caller. Step failures are data,
// not errors: a run with failed steps still returns a nil error unless
// something fatal happened.
type Result struct {
	Output          string `json:"output"`
	PlanID          string `json:"plan_id"`
	StepCount       int    `json:"step_count"`
	FailedStepCount int    `json:"failed_step_count"`
	LLMCalls        int    `json:"llm_calls"`
	SessionID       string `json:"session_id,omitempty"`
}

func strPtr(s string) *string { return &s }

// recordLLMCall forwards one model round trip to the session log.
func recordLLMCall(rec *session.Recorder, model string, latency time.Duration, resp *llm.ChatResponse, err error) {
	if resp == nil {
		rec.LLMCall(model, latency, 0, 0, nil, err)
		return
	}
	rec.LLMCall(model, latency, resp.Usage.PromptTokens, resp.Usage.CompletionTokens, resp.Meta.CacheHitRate, err)
}

// applyFindCap bounds result counts for file-search commands when a cap
// is configured.
func applyFindCap(command string, params map[string]interface{}, limit int) {
	if limit <= 0 {
		return
	}
	switch command {
	case "find_files", "grep_files", "grep_in_file":
		params["max_results"] = limit
	}
}

// outputString renders a subprocess result payload for storage on the
// plan step. Non-string payloads keep their JSON-ish fmt rendering.
func outputString(v interface{}) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// planText renders the full plan state for the baseline system prompt.
// It changes on every step update, which is exactly the property the
// stable-prompt mode avoids.
func planText(p *planstore.Plan) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Current plan %s for query: %s\n", p.PlanID, p.Query)
	for _, st := range p.Steps {
		fmt.Fprintf(&b, "Step %d [%s] %s\n", st.StepNr, st.Status, st.SkillName)
		if st.SubQuery != "" {
			fmt.Fprintf(&b, "  sub-query: %s\n", st.SubQuery)
		}
		if st.Result != "" {
			fmt.Fprintf(&b, "  result: %s\n", st.Result)
		}
	}
	return b.String()
}
