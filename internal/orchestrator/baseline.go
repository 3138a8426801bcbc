package orchestrator

import (
	"context"
	"encoding/json"
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

// Baseline reproduces the traditional tool-using agent loop: the full
// plan text is embedded in the system prompt and regenerated after every
// tool execution, so the prompt prefix changes on each turn. It exists
// as the reference policy the stable-prompt mode is measured against.
type Baseline struct {
	provider llm.Provider
	decomp   *decompose.Decomposer
	registry *skills.Registry
	store    *planstore.Store
	executor *subprocess.Executor
	log      *logging.Logger
	opts     Options
}

// NewBaseline wires a baseline orchestrator from its parts.
func NewBaseline(provider llm.Provider, decomp *decompose.Decomposer, registry *skills.Registry, store *planstore.Store, executor *subprocess.Executor, log *logging.Logger, opts Options) *Baseline {
	if log == nil {
		log = logging.New()
	}
	opts.fill()
	return &Baseline{
		provider: provider,
		decomp:   decomp,
		registry: registry,
		store:    store,
		executor: executor,
		log:      log.WithComponent("baseline"),
		opts:     opts,
	}
}

// toolCall is one tool invocation requested by the model.
type toolCall struct {
	Skill      string                 `json:"skill"`
	Command    string                 `json:"command"`
	Parameters map[string]interface{} `json:"parameters"`
}

type toolCallEnvelope struct {
	ToolCalls []toolCall `json:"tool_calls"`
}

const baselineInstructions = `You are an assistant that answers requests by calling tools.
Use the provided tools where available. If no tool interface is available,
respond with ONLY a JSON object of the form:
{"tool_calls": [{"skill": "<skill name>", "command": "<command>", "parameters": {}}]}
When no more tool calls are needed, respond with the final answer as plain text.`

// toolNameSep joins skill and command into one advertised tool name;
// the dispatcher splits it back apart.
const toolNameSep = "__"

// toolDefs advertises every discovered skill command as a callable tool.
// Skills without declared tools get a single generic entry taking the
// sub-query as a parameter.
func (b *Baseline) toolDefs() []llm.ToolDef {
	var defs []llm.ToolDef
	for _, sk := range b.registry.ListSkills(nil) {
		if len(sk.Tools) == 0 {
			defs = append(defs, llm.ToolDef{
				Name:        sk.Name,
				Description: sk.Description,
				Parameters: map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"query": map[string]interface{}{
							"type":        "string",
							"description": "The request to pass to the skill",
						},
					},
					"required": []interface{}{"query"},
				},
			})
			continue
		}
		for _, td := range sk.Tools {
			desc := td.Description
			if desc == "" {
				desc = sk.Description
			}
			defs = append(defs, llm.ToolDef{
				Name:        sk.Name + toolNameSep + td.Name,
				Description: desc,
				Parameters:  td.ParameterSchema,
			})
		}
	}
	return defs
}

// Run decomposes the query and drives the tool-calling loop until the
// model returns a plain response or the call cap is reached.
func (b *Baseline) Run(ctx context.Context, query string) (*Result, error) {
	start := time.Now()
	b.log.RunStart("baseline", query)
	rec := session.NewRecorder(b.opts.Sessions, "baseline", query)

	plan, planID, err := b.decomp.Decompose(ctx, query, "", "")
	if err != nil {
		rec.Decompose("", 0, err)
		wrapped := fmt.Errorf("%w: %v", ErrLLM, err)
		if ctx.Err() != nil {
			wrapped = fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
		}
		b.finishSession(rec, "", wrapped)
		return nil, wrapped
	}
	rec.Decompose(planID, len(plan.OutputSteps), nil)

	res := &Result{PlanID: planID, StepCount: len(plan.OutputSteps), LLMCalls: 1, SessionID: rec.RunID()}
	ctx, span := startRunSpan(ctx, "baseline", planID, len(plan.OutputSteps))
	runErr := b.loop(ctx, query, planID, res, rec)
	endRunSpan(span, res, runErr)
	b.finishSession(rec, res.Output, runErr)

	status := planstore.StatusCompleted
	if runErr != nil {
		status = planstore.StatusFailed
	}
	b.log.RunComplete("baseline", time.Since(start), res.LLMCalls, status)
	return res, runErr
}

func (b *Baseline) finishSession(rec *session.Recorder, output string, runErr error) {
	if err := rec.Finish(output, runErr); err != nil {
		b.log.Warn("session write failed", map[string]interface{}{"error": err.Error()})
	}
}

// systemPrompt regenerates the full system prompt, plan text included.
// Reading the plan back from the store on every turn is the point: the
// prompt tracks every status and result mutation.
func (b *Baseline) systemPrompt(planID string) (string, error) {
	plan, err := b.store.Get(planID)
	if err != nil {
		return "", err
	}
	if plan == nil {
		return "", fmt.Errorf("plan %s not found", planID)
	}
	var sb strings.Builder
	sb.WriteString(baselineInstructions)
	sb.WriteString("\n\nAvailable skills:\n")
	sb.WriteString(b.registry.SkillsDescription(nil))
	sb.WriteString("\n\n")
	sb.WriteString(planText(plan))
	return sb.String(), nil
}

func (b *Baseline) loop(ctx context.Context, query, planID string, res *Result, rec *session.Recorder) error {
	trail := []llm.Message{{Role: llm.RoleUser, Content: query}}
	tools := b.toolDefs()
	// cursor tracks which plan step the next tool result closes.
	cursor := 1

	for res.LLMCalls < b.opts.MaxLLMCalls {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
		}

		sysPrompt, err := b.systemPrompt(planID)
		if err != nil {
			return fmt.Errorf("baseline: rebuild prompt: %w", err)
		}

		b.log.LLMCall("tool-loop", b.provider.Model(), res.LLMCalls+1)
		callStart := time.Now()
		resp, err := b.provider.Chat(ctx, llm.ChatRequest{
			Messages: append([]llm.Message{{Role: llm.RoleSystem, Content: sysPrompt}}, trail...),
			Tools:    tools,
		})
		res.LLMCalls++
		b.log.LLMResult("tool-loop", time.Since(callStart), err)
		recordLLMCall(rec, b.provider.Model(), time.Since(callStart), resp, err)
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
			}
			return fmt.Errorf("%w: %v", ErrLLM, err)
		}

		// Native tool calls take precedence; the JSON envelope in the
		// content is the fallback for backends without tool support.
		if len(resp.ToolCalls) > 0 {
			trail = append(trail, llm.Message{
				Role:      llm.RoleAssistant,
				Content:   resp.Content,
				ToolCalls: resp.ToolCalls,
			})
			for _, tc := range resp.ToolCalls {
				call := decodeNativeCall(tc)
				summary, failed, fatal := b.dispatch(ctx, planID, cursor, call, rec)
				if fatal != nil {
					return fatal
				}
				if failed {
					res.FailedStepCount++
				}
				cursor++
				trail = append(trail, llm.Message{
					Role:       llm.RoleTool,
					ToolCallID: tc.ID,
					Content:    summary,
				})
			}
			continue
		}

		content := llm.StripFences(llm.StripReasoning(resp.Content))
		calls, ok := parseToolCalls(content)
		if !ok {
			// Plain response terminates the loop. A trailing synthesis
			// step, if still open, records the reply.
			res.Output = content
			b.closeFinalStep(planID, cursor, content)
			return nil
		}

		trail = append(trail, llm.Message{Role: llm.RoleAssistant, Content: content})
		for _, call := range calls {
			summary, failed, fatal := b.dispatch(ctx, planID, cursor, call, rec)
			if fatal != nil {
				return fatal
			}
			if failed {
				res.FailedStepCount++
			}
			cursor++
			trail = append(trail, llm.Message{
				Role:    llm.RoleTool,
				Content: fmt.Sprintf("%s/%s: %s", call.Skill, call.Command, summary),
			})
		}
	}

	b.log.Warn("llm call cap reached", map[string]interface{}{
		"plan_id": planID,
		"cap":     b.opts.MaxLLMCalls,
	})
	res.Output = "Error: model call budget exhausted before a final answer"
	return nil
}

// decodeNativeCall maps an advertised tool name back to a skill and
// command. Bad argument JSON degrades to empty parameters; the skill's
// own validation reports the problem.
func decodeNativeCall(tc llm.ToolCall) toolCall {
	call := toolCall{Skill: tc.Name}
	if i := strings.Index(tc.Name, toolNameSep); i >= 0 {
		call.Skill = tc.Name[:i]
		call.Command = tc.Name[i+len(toolNameSep):]
	}
	if tc.Arguments != "" {
		_ = json.Unmarshal([]byte(tc.Arguments), &call.Parameters)
	}
	return call
}

// parseToolCalls decodes a tool_calls envelope. Anything that is not a
// JSON object with a non-empty tool_calls array is a final answer.
func parseToolCalls(content string) ([]toolCall, bool) {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "{") {
		return nil, false
	}
	var env toolCallEnvelope
	if err := json.Unmarshal([]byte(trimmed), &env); err != nil || len(env.ToolCalls) == 0 {
		return nil, false
	}
	return env.ToolCalls, true
}

// dispatch executes one requested tool call and records the outcome on
// the plan step under the cursor.
func (b *Baseline) dispatch(ctx context.Context, planID string, stepNr int, call toolCall, rec *session.Recorder) (string, bool, error) {
	sk := b.registry.GetSkill(call.Skill)
	if sk == nil {
		msg := "Error: unknown skill: " + call.Skill
		b.closeStep(planID, stepNr, planstore.StatusFailed, msg)
		return msg, true, nil
	}

	command := call.Command
	params := call.Parameters
	if command == "" {
		sub, _ := params["query"].(string)
		command, params = InferCommandAndParams(call.Skill, sub)
	}
	if params == nil {
		params = map[string]interface{}{}
	}
	if b.opts.SafeMode && call.Skill == shellHelperSkill && !shellReadOnlyCommands[command] {
		msg := "Error: command blocked in safe mode: " + command
		b.closeStep(planID, stepNr, planstore.StatusFailed, msg)
		return msg, true, nil
	}
	applyFindCap(command, params, b.opts.MaxFindResults)

	b.log.SkillCall(call.Skill, command)
	callStart := time.Now()
	out, err := b.executor.Execute(ctx, subprocess.Request{
		Skill:      sk,
		Command:    command,
		Parameters: params,
		Timeout:    b.opts.StepTimeout,
	})
	b.log.SkillResult(call.Skill, command, time.Since(callStart), err)
	if out != nil {
		rec.SkillCall(stepNr, call.Skill, command, out.Success, out.Error, out.Stderr, time.Since(callStart))
	}
	if err != nil {
		if ctx.Err() != nil {
			return "", false, fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
		}
		return "", false, fmt.Errorf("%w: %s: %v", ErrSubprocess, call.Skill, err)
	}
	if !out.Success && ctx.Err() != nil {
		return "", false, fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
	}

	if out.Success {
		summary := planstore.Truncate(outputString(out.Output), stepResultLimit)
		b.closeStep(planID, stepNr, planstore.StatusCompleted, summary)
		return summary, false, nil
	}
	msg := planstore.Truncate("Error: "+out.Error, stepResultLimit)
	b.closeStep(planID, stepNr, planstore.StatusFailed, msg)
	return msg, true, nil
}

// closeStep records a terminal status on the plan step, tolerating a
// cursor that ran past the planned steps (the model may call more tools
// than the plan anticipated).
func (b *Baseline) closeStep(planID string, stepNr int, status, result string) {
	err := b.store.UpdateStepStatus(planID, stepNr, status, strPtr(result))
	if err != nil {
		b.log.Debug("plan update skipped", map[string]interface{}{
			"plan_id": planID,
			"step":    stepNr,
			"error":   err.Error(),
		})
	}
}

// closeFinalStep completes a pending synthesis step with the final
// reply, if the plan has one at or after the cursor.
func (b *Baseline) closeFinalStep(planID string, cursor int, reply string) {
	plan, err := b.store.Get(planID)
	if err != nil || plan == nil {
		return
	}
	for _, st := range plan.Steps {
		if st.StepNr < cursor || st.Status != planstore.StatusPending {
			continue
		}
		if st.SkillName == skills.ReservedFinalResponse || st.SkillName == skills.ReservedChitchat {
			b.closeStep(planID, st.StepNr, planstore.StatusCompleted, planstore.Truncate(reply, stepResultLimit))
			return
		}
	}
}
