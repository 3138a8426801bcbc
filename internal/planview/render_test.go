package planview

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/planweave/planweave/internal/planstore"
)

func seededStore(t *testing.T) (*planstore.Store, string) {
	t.Helper()
	store, err := planstore.NewStore(filepath.Join(t.TempDir(), planstore.DefaultFileName), nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	planID, err := store.Create("book a meeting", []planstore.Step{
		{StepNr: 1, SkillName: "calendar-assistant", Rationale: "needs scheduling", SubQuery: "schedule it"},
		{StepNr: 2, SkillName: "final_response", Rationale: "confirm", SubQuery: "confirm to user"},
	}, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return store, planID
}

func TestRenderPlanShowsStepsAndTally(t *testing.T) {
	store, planID := seededStore(t)
	if err := store.UpdateStepStatus(planID, 1, planstore.StatusCompleted, strPtr("event created")); err != nil {
		t.Fatalf("UpdateStepStatus: %v", err)
	}

	plan, err := store.Get(planID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	out := RenderPlan(plan)

	for _, want := range []string{
		"Plan " + planID,
		"book a meeting",
		"calendar-assistant",
		"event created",
		"final_response",
		"1/2 steps completed",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("RenderPlan output missing %q:\n%s", want, out)
		}
	}
}

func TestRenderPlanMarksFailures(t *testing.T) {
	store, planID := seededStore(t)
	if err := store.UpdateStepStatus(planID, 1, planstore.StatusFailed, strPtr("Error: timeout")); err != nil {
		t.Fatalf("UpdateStepStatus: %v", err)
	}
	plan, _ := store.Get(planID)
	out := RenderPlan(plan)
	if !strings.Contains(out, "1 failed") {
		t.Errorf("tally missing failure count:\n%s", out)
	}
	if !strings.Contains(out, "Error: timeout") {
		t.Errorf("failed step result missing:\n%s", out)
	}
}

func TestRenderListAndFile(t *testing.T) {
	store, planID := seededStore(t)

	summaries, err := store.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	list := RenderList(summaries)
	if !strings.Contains(list, planID) || !strings.Contains(list, "book a meeting") {
		t.Errorf("RenderList output:\n%s", list)
	}

	full, err := RenderFile(store)
	if err != nil {
		t.Fatalf("RenderFile: %v", err)
	}
	if !strings.Contains(full, "Plan "+planID) {
		t.Errorf("RenderFile output:\n%s", full)
	}
}

func TestRenderListEmpty(t *testing.T) {
	if out := RenderList(nil); !strings.Contains(out, "no plans") {
		t.Errorf("empty list output = %q", out)
	}
}

func TestWrapContentIndentsStepBodies(t *testing.T) {
	long := "    " + strings.Repeat("word ", 30)
	out := wrapContent(long, 40)
	lines := strings.Split(out, "\n")
	if len(lines) < 2 {
		t.Fatalf("no wrapping happened: %q", out)
	}
	for i, line := range lines {
		if !strings.HasPrefix(line, "    ") {
			t.Errorf("line %d lost its indent: %q", i, line)
		}
	}
}

func strPtr(s string) *string { return &s }
