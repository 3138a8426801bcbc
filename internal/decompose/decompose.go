// Package decompose turns a free-form user query into a typed plan of
// skill invocations via a single model call with a stable prompt.
package decompose

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/planweave/planweave/internal/llm"
	"github.com/planweave/planweave/internal/logging"
	"github.com/planweave/planweave/internal/planstore"
	"github.com/planweave/planweave/internal/skills"
)

// maxFieldLen bounds rationale and sub_query values from the model.
const maxFieldLen = 1000

// contextSummaryLen bounds the memory/history summaries stored in the
// plan's context block.
const contextSummaryLen = 200

// PlanJSON is the model's expected output shape.
type PlanJSON struct {
	MultiSteps  bool       `json:"multi_steps"`
	OutputSteps []StepJSON `json:"output_steps"`
}

// StepJSON is one planned step as emitted by the model.
type StepJSON struct {
	StepNr    int    `json:"step_nr"`
	SkillName string `json:"skill_name"`
	Rationale string `json:"rationale"`
	SubQuery  string `json:"sub_query"`
}

// Decomposer builds the decomposition prompt, calls the model, parses
// and validates the plan, and persists it.
type Decomposer struct {
	provider llm.Provider
	registry *skills.Registry
	store    *planstore.Store
	log      *logging.Logger

	// stablePrefix is computed once; reusing it byte-for-byte across
	// calls preserves the model's prefix cache.
	stablePrefix string
}

// New creates a Decomposer. userGroups scopes which skills the prompt
// advertises.
func New(provider llm.Provider, registry *skills.Registry, store *planstore.Store, userGroups []string, log *logging.Logger) *Decomposer {
	if log == nil {
		log = logging.New()
	}
	return &Decomposer{
		provider:     provider,
		registry:     registry,
		store:        store,
		log:          log.WithComponent("decompose"),
		stablePrefix: buildStablePrefix(registry.SkillsDescription(userGroups)),
	}
}

// StablePrefix exposes the constant prompt prefix so the orchestrator
// can reuse the identical bytes for synthesis prompts.
func (d *Decomposer) StablePrefix() string {
	return d.stablePrefix
}

// Decompose runs one decomposition: prompt, model call, parse,
// validate, persist. Malformed model output degrades to a synthetic
// single-step final_response plan rather than an error; an empty query
// yields a single-step none plan without calling the model.
func (d *Decomposer) Decompose(ctx context.Context, userInput, memorySection, historySection string) (*PlanJSON, string, error) {
	if strings.TrimSpace(userInput) == "" {
		plan := &PlanJSON{
			MultiSteps: false,
			OutputSteps: []StepJSON{{
				StepNr:    1,
				SkillName: skills.ReservedNone,
				Rationale: "Empty query, nothing to do",
				SubQuery:  "",
			}},
		}
		planID, err := d.persist(userInput, memorySection, historySection, plan)
		return plan, planID, err
	}

	prompt := buildPrompt(d.stablePrefix, memorySection, historySection, userInput)

	d.log.LLMCall("decompose", d.provider.Model(), 1)
	resp, err := d.provider.Chat(ctx, llm.ChatRequest{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: prompt},
			{Role: llm.RoleUser, Content: userInput},
		},
	})
	if err != nil {
		return nil, "", fmt.Errorf("decompose: model call: %w", err)
	}

	plan, parseErr := d.parse(resp.Content)
	if parseErr != nil {
		d.log.Warn("model output rejected, using fallback plan", map[string]interface{}{
			"error": parseErr.Error(),
			"raw":   planstore.Truncate(resp.Content, 300),
		})
		plan = &PlanJSON{
			MultiSteps: false,
			OutputSteps: []StepJSON{{
				StepNr:    1,
				SkillName: skills.ReservedFinalResponse,
				Rationale: planstore.Truncate(fmt.Sprintf("Error processing query: %v", parseErr), maxFieldLen),
				SubQuery:  userInput,
			}},
		}
	}

	planID, err := d.persist(userInput, memorySection, historySection, plan)
	if err != nil {
		return nil, "", err
	}
	return plan, planID, nil
}

// parse strips reasoning spans and code fences, decodes the JSON, and
// validates the plan shape.
func (d *Decomposer) parse(raw string) (*PlanJSON, error) {
	cleaned := llm.StripFences(raw)

	var plan PlanJSON
	if err := json.Unmarshal([]byte(cleaned), &plan); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if len(plan.OutputSteps) == 0 {
		return nil, fmt.Errorf("plan has no steps")
	}

	for i := range plan.OutputSteps {
		st := &plan.OutputSteps[i]
		if st.StepNr != i+1 {
			return nil, fmt.Errorf("step numbers not contiguous: got %d at position %d", st.StepNr, i+1)
		}
		if !skills.IsReserved(st.SkillName) && d.registry.GetSkill(st.SkillName) == nil {
			return nil, fmt.Errorf("unknown skill %q", st.SkillName)
		}
		st.Rationale = planstore.Truncate(st.Rationale, maxFieldLen)
		st.SubQuery = planstore.Truncate(st.SubQuery, maxFieldLen)
	}

	// The flag is derived, not trusted.
	plan.MultiSteps = len(plan.OutputSteps) > 1
	return &plan, nil
}

// persist writes the plan to the store with truncated context summaries.
func (d *Decomposer) persist(userInput, memorySection, historySection string, plan *PlanJSON) (string, error) {
	steps := make([]planstore.Step, 0, len(plan.OutputSteps))
	for _, st := range plan.OutputSteps {
		steps = append(steps, planstore.Step{
			StepNr:    st.StepNr,
			SkillName: st.SkillName,
			Rationale: st.Rationale,
			SubQuery:  st.SubQuery,
		})
	}

	ctx := map[string]string{}
	if memorySection != "" {
		ctx["memory_summary"] = planstore.Truncate(memorySection, contextSummaryLen)
	}
	if historySection != "" {
		ctx["history_summary"] = planstore.Truncate(historySection, contextSummaryLen)
	}

	planID, err := d.store.Create(userInput, steps, ctx)
	if err != nil {
		return "", fmt.Errorf("decompose: persist plan: %w", err)
	}
	return planID, nil
}
