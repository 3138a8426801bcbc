package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/planweave/planweave/internal/decompose"
	"github.com/planweave/planweave/internal/llm"
	"github.com/planweave/planweave/internal/logging"
	"github.com/planweave/planweave/internal/planstore"
	"github.com/planweave/planweave/internal/session"
	"github.com/planweave/planweave/internal/skills"
	"github.com/planweave/planweave/internal/subprocess"
)

// Stable executes plans with a byte-identical system prompt across all
// model calls of a request. Plan state lives in the plan file, never in
// the prompt, so the model-side prefix cache stays warm: the only model
// calls are decomposition and the synthesis steps, and both share the
// same constant prefix.
type Stable struct {
	provider llm.Provider
	decomp   *decompose.Decomposer
	registry *skills.Registry
	store    *planstore.Store
	executor *subprocess.Executor
	log      *logging.Logger
	opts     Options
}

// NewStable wires a stable-prompt orchestrator from its parts.
func NewStable(provider llm.Provider, decomp *decompose.Decomposer, registry *skills.Registry, store *planstore.Store, executor *subprocess.Executor, log *logging.Logger, opts Options) *Stable {
	if log == nil {
		log = logging.New()
	}
	opts.fill()
	return &Stable{
		provider: provider,
		decomp:   decomp,
		registry: registry,
		store:    store,
		executor: executor,
		log:      log.WithComponent("orchestrator"),
		opts:     opts,
	}
}

// Run decomposes the query, executes every step in order, and returns
// the final reply. Step failures are recorded on the plan and do not
// stop the run; only model failures, executor faults, and cancellation
// are fatal.
func (s *Stable) Run(ctx context.Context, query string) (*Result, error) {
	start := time.Now()
	s.log.RunStart("stable", query)
	rec := session.NewRecorder(s.opts.Sessions, "stable", query)

	plan, planID, err := s.decomp.Decompose(ctx, query, "", "")
	if err != nil {
		rec.Decompose("", 0, err)
		wrapped := fmt.Errorf("%w: %v", ErrLLM, err)
		if ctx.Err() != nil {
			wrapped = fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
		}
		s.finishSession(rec, "", wrapped)
		return nil, wrapped
	}
	rec.Decompose(planID, len(plan.OutputSteps), nil)

	res := &Result{PlanID: planID, StepCount: len(plan.OutputSteps), LLMCalls: 1, SessionID: rec.RunID()}
	ctx, span := startRunSpan(ctx, "stable", planID, len(plan.OutputSteps))
	runErr := s.runSteps(ctx, plan, planID, res, rec)
	endRunSpan(span, res, runErr)
	s.finishSession(rec, res.Output, runErr)

	status := planstore.StatusCompleted
	if runErr != nil {
		status = planstore.StatusFailed
	}
	s.log.RunComplete("stable", time.Since(start), res.LLMCalls, status)
	return res, runErr
}

func (s *Stable) finishSession(rec *session.Recorder, output string, runErr error) {
	if err := rec.Finish(output, runErr); err != nil {
		s.log.Warn("session write failed", map[string]interface{}{"error": err.Error()})
	}
}

// synthesisPrompt is the constant system prompt for synthesis steps. It
// extends the decomposer's stable prefix with a plan-file reference that
// does not change within the request.
func (s *Stable) synthesisPrompt(planID string) string {
	return s.decomp.StablePrefix() +
		"\n\nPlan tracking file: " + s.store.Path() +
		"\nPlan ID: " + planID +
		"\nTo check plan status, read the plan file.\n"
}

func (s *Stable) runSteps(ctx context.Context, plan *decompose.PlanJSON, planID string, res *Result, rec *session.Recorder) error {
	sysPrompt := s.synthesisPrompt(planID)

	var lastFinal string
	var summaries []string
	for _, st := range plan.OutputSteps {
		// Deadline or cancellation between steps leaves the rest pending.
		if ctx.Err() != nil {
			res.Output = strings.Join(summaries, "\n")
			return fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
		}

		stepCtx, stepSpan := startStepSpan(ctx, st.StepNr, st.SkillName)
		s.log.StepStart(planID, st.StepNr, st.SkillName)
		rec.StepStart(st.StepNr, st.SkillName)
		stepStart := time.Now()
		s.update(planID, st.StepNr, planstore.StatusInProgress, nil)

		var summary, status string
		var fatal error
		switch st.SkillName {
		case skills.ReservedFinalResponse, skills.ReservedChitchat:
			summary, status, fatal = s.synthesizeStep(stepCtx, sysPrompt, planID, st, summaries, rec)
			res.LLMCalls++
			if fatal == nil && st.SkillName == skills.ReservedFinalResponse {
				lastFinal = summary
			}
		case skills.ReservedNone:
			s.update(planID, st.StepNr, planstore.StatusFailed, strPtr(noneStepResult))
			summary, status = noneReply, planstore.StatusFailed
		default:
			summary, status, fatal = s.runSkillStep(stepCtx, planID, st, rec)
		}

		endStepSpan(stepSpan, status, fatal)
		if fatal != nil {
			res.Output = strings.Join(summaries, "\n")
			return fatal
		}
		if status == planstore.StatusFailed {
			res.FailedStepCount++
		}
		summaries = append(summaries, summary)
		rec.StepEnd(st.StepNr, st.SkillName, status, summary, time.Since(stepStart))
		s.log.StepComplete(planID, st.StepNr, st.SkillName, status, time.Since(stepStart))
	}

	if lastFinal != "" {
		res.Output = lastFinal
	} else {
		res.Output = strings.Join(summaries, "\n")
	}
	return nil
}

// synthesizeStep handles the reserved final_response and chitchat steps.
// Results from earlier steps ride on the user message; the system prompt
// stays byte-identical so only the suffix varies between calls.
func (s *Stable) synthesizeStep(ctx context.Context, sysPrompt, planID string, st decompose.StepJSON, prior []string, rec *session.Recorder) (string, string, error) {
	user := st.SubQuery
	if len(prior) > 0 {
		user += "\n\nResults from completed steps:\n" + strings.Join(prior, "\n")
	}

	s.log.LLMCall("synthesis", s.provider.Model(), 1)
	callStart := time.Now()
	resp, err := s.provider.Chat(ctx, llm.ChatRequest{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: sysPrompt},
			{Role: llm.RoleUser, Content: user},
		},
	})
	s.log.LLMResult("synthesis", time.Since(callStart), err)
	recordLLMCall(rec, s.provider.Model(), time.Since(callStart), resp, err)
	if err != nil {
		if ctx.Err() != nil {
			return "", planstore.StatusFailed, fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
		}
		s.update(planID, st.StepNr, planstore.StatusFailed, strPtr(planstore.Truncate("Error: "+err.Error(), stepResultLimit)))
		return "", planstore.StatusFailed, fmt.Errorf("%w: synthesis step %d: %v", ErrLLM, st.StepNr, err)
	}

	content := llm.StripFences(llm.StripReasoning(resp.Content))
	s.update(planID, st.StepNr, planstore.StatusCompleted, strPtr(planstore.Truncate(content, stepResultLimit)))
	return content, planstore.StatusCompleted, nil
}

// runSkillStep resolves the skill, infers its command, and dispatches it
// to the subprocess executor. Subprocess failures become step data.
func (s *Stable) runSkillStep(ctx context.Context, planID string, st decompose.StepJSON, rec *session.Recorder) (string, string, error) {
	sk := s.registry.GetSkill(st.SkillName)
	if sk == nil {
		msg := "Error: unknown skill: " + st.SkillName
		s.update(planID, st.StepNr, planstore.StatusFailed, strPtr(msg))
		return msg, planstore.StatusFailed, nil
	}

	command, params := InferCommandAndParams(st.SkillName, st.SubQuery)
	if s.opts.SafeMode && st.SkillName == shellHelperSkill && !shellReadOnlyCommands[command] {
		msg := "Error: command blocked in safe mode: " + command
		s.update(planID, st.StepNr, planstore.StatusFailed, strPtr(msg))
		return msg, planstore.StatusFailed, nil
	}
	applyFindCap(command, params, s.opts.MaxFindResults)

	s.log.SkillCall(st.SkillName, command)
	callStart := time.Now()
	out, err := s.executor.Execute(ctx, subprocess.Request{
		Skill:      sk,
		Command:    command,
		Parameters: params,
		Timeout:    s.opts.StepTimeout,
	})
	s.log.SkillResult(st.SkillName, command, time.Since(callStart), err)
	if out != nil {
		rec.SkillCall(st.StepNr, st.SkillName, command, out.Success, out.Error, out.Stderr, time.Since(callStart))
	}
	if err != nil {
		if ctx.Err() != nil {
			return "", planstore.StatusFailed, fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
		}
		return "", planstore.StatusFailed, fmt.Errorf("%w: step %d (%s): %v", ErrSubprocess, st.StepNr, st.SkillName, err)
	}

	// A cancelled call must not close the step; the run stops here and
	// the plan keeps its in-flight state.
	if !out.Success && ctx.Err() != nil {
		return "", planstore.StatusFailed, fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
	}

	if out.Success {
		summary := planstore.Truncate(outputString(out.Output), stepResultLimit)
		s.update(planID, st.StepNr, planstore.StatusCompleted, strPtr(summary))
		return summary, planstore.StatusCompleted, nil
	}
	msg := planstore.Truncate("Error: "+out.Error, stepResultLimit)
	s.update(planID, st.StepNr, planstore.StatusFailed, strPtr(msg))
	return msg, planstore.StatusFailed, nil
}

func (s *Stable) update(planID string, stepNr int, status string, result *string) {
	if err := s.store.UpdateStepStatus(planID, stepNr, status, result); err != nil {
		s.log.Warn("plan update failed", map[string]interface{}{
			"plan_id": planID,
			"step":    stepNr,
			"status":  status,
			"error":   err.Error(),
		})
	}
}
