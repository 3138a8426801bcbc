package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/planweave/planweave/internal/decompose"
	"github.com/planweave/planweave/internal/llm"
	"github.com/planweave/planweave/internal/planstore"
	"github.com/planweave/planweave/internal/session"
	"github.com/planweave/planweave/internal/skills"
	"github.com/planweave/planweave/internal/subprocess"
)

// writeSkill adds a script-backed skill under base. The script body runs
// after a "#!/bin/sh" line and receives the request JSON on stdin.
func writeSkill(t *testing.T, base, name, desc, script string) {
	t.Helper()
	dir := filepath.Join(base, name)
	if err := os.MkdirAll(filepath.Join(dir, "scripts"), 0o755); err != nil {
		t.Fatal(err)
	}
	manifest := "---\nname: " + name + "\ndescription: " + desc + "\n---\nBody.\n"
	if err := os.WriteFile(filepath.Join(dir, "SKILL.md"), []byte(manifest), 0o644); err != nil {
		t.Fatal(err)
	}
	entry := filepath.Join(dir, "scripts", strings.ReplaceAll(name, "-", "_")+"_skill.sh")
	if err := os.WriteFile(entry, []byte("#!/bin/sh\n"+script), 0o755); err != nil {
		t.Fatal(err)
	}
}

type fixture struct {
	mock  *llm.MockProvider
	store *planstore.Store
	st    *Stable
	bl    *Baseline
}

// newFixture builds both orchestrators over the same mock provider,
// registry, store, and executor. skillScripts maps skill name to its
// entry-script body; every skill gets a generic description.
func newFixture(t *testing.T, opts Options, skillScripts map[string]string) *fixture {
	t.Helper()
	base := t.TempDir()
	for name, script := range skillScripts {
		writeSkill(t, base, name, "Test skill "+name+".", script)
	}
	reg, err := skills.NewRegistry(base, skills.RegistryOptions{})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	store, err := planstore.NewStore(filepath.Join(t.TempDir(), planstore.DefaultFileName), nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	mock := llm.NewMockProvider()
	dec := decompose.New(mock, reg, store, nil, nil)
	ex := subprocess.NewExecutor(nil)
	return &fixture{
		mock:  mock,
		store: store,
		st:    NewStable(mock, dec, reg, store, ex, nil, opts),
		bl:    NewBaseline(mock, dec, reg, store, ex, nil, opts),
	}
}

const successScript = `cat >/dev/null
echo '{"success": true, "output": "event created"}'
`

func planJSON(steps ...string) string {
	multi := "false"
	if len(steps) > 1 {
		multi = "true"
	}
	return `{"multi_steps": ` + multi + `, "output_steps": [` + strings.Join(steps, ",") + `]}`
}

func stepJSON(nr int, skill, subQuery string) string {
	return fmt.Sprintf(`{"step_nr": %d, "skill_name": %q, "rationale": "because", "sub_query": %q}`,
		nr, skill, subQuery)
}

func TestStableGreeting(t *testing.T) {
	f := newFixture(t, Options{}, nil)
	f.mock.SetResponse(planJSON(stepJSON(1, "chitchat", "Hello!")))
	f.mock.SetResponse("Hello! How can I help today?")

	res, err := f.st.Run(context.Background(), "Hello!")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Output != "Hello! How can I help today?" {
		t.Errorf("Output = %q", res.Output)
	}
	if res.FailedStepCount != 0 || res.StepCount != 1 {
		t.Errorf("counts = %+v", res)
	}
	if res.LLMCalls != 2 {
		t.Errorf("LLMCalls = %d, want 2", res.LLMCalls)
	}

	plan, err := f.store.Get(res.PlanID)
	if err != nil || plan == nil {
		t.Fatalf("stored plan missing: %v", err)
	}
	if plan.Steps[0].Status != planstore.StatusCompleted {
		t.Errorf("step status = %q", plan.Steps[0].Status)
	}
}

func TestStableCalendarThenSynthesis(t *testing.T) {
	f := newFixture(t, Options{}, map[string]string{"calendar-assistant": successScript})
	f.mock.SetResponse(planJSON(
		stepJSON(1, "calendar-assistant", "schedule a meeting tomorrow at 2pm"),
		stepJSON(2, "final_response", "Confirm the booking to the user"),
	))
	f.mock.SetResponse("Your meeting is booked for tomorrow at 2pm.")

	res, err := f.st.Run(context.Background(), "book a meeting tomorrow at 2pm")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Output != "Your meeting is booked for tomorrow at 2pm." {
		t.Errorf("Output = %q", res.Output)
	}
	if res.FailedStepCount != 0 {
		t.Errorf("FailedStepCount = %d", res.FailedStepCount)
	}

	plan, _ := f.store.Get(res.PlanID)
	if plan.Steps[0].Status != planstore.StatusCompleted || plan.Steps[0].Result != "event created" {
		t.Errorf("step 1 = %+v", plan.Steps[0])
	}
	if plan.Steps[1].Status != planstore.StatusCompleted {
		t.Errorf("step 2 = %+v", plan.Steps[1])
	}

	// Earlier results reach synthesis through the user message, not the
	// system prompt.
	calls := f.mock.Calls()
	synth := calls[len(calls)-1]
	user := synth.Messages[len(synth.Messages)-1]
	if user.Role != llm.RoleUser || !strings.Contains(user.Content, "event created") {
		t.Errorf("synthesis user message = %+v", user)
	}
	if strings.Contains(synth.Messages[0].Content, "event created") {
		t.Error("step result leaked into the system prompt")
	}
}

func TestStableSynthesisPromptConstant(t *testing.T) {
	f := newFixture(t, Options{}, nil)
	f.mock.SetResponse(planJSON(
		stepJSON(1, "chitchat", "Say hi"),
		stepJSON(2, "final_response", "Wrap up"),
	))
	f.mock.SetResponse("Hi.")
	f.mock.SetResponse("Done.")

	if _, err := f.st.Run(context.Background(), "hi then summarize"); err != nil {
		t.Fatalf("Run: %v", err)
	}

	calls := f.mock.Calls()
	if len(calls) != 3 {
		t.Fatalf("calls = %d, want 3", len(calls))
	}
	first := calls[1].Messages[0]
	second := calls[2].Messages[0]
	if first.Role != llm.RoleSystem || second.Role != llm.RoleSystem {
		t.Fatal("synthesis calls missing system message")
	}
	if first.Content != second.Content {
		t.Error("synthesis system prompts differ between steps")
	}
	if !strings.Contains(first.Content, "Plan tracking file: ") {
		t.Error("synthesis prompt missing plan file reference")
	}
}

func TestStableUnsupportedRequest(t *testing.T) {
	f := newFixture(t, Options{}, nil)
	f.mock.SetResponse(planJSON(stepJSON(1, "none", "order me a pizza")))

	res, err := f.st.Run(context.Background(), "order me a pizza")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(res.Output, "cannot") {
		t.Errorf("Output = %q, want a refusal containing \"cannot\"", res.Output)
	}
	if res.FailedStepCount != 1 {
		t.Errorf("FailedStepCount = %d", res.FailedStepCount)
	}
	if f.mock.CallCount() != 1 {
		t.Errorf("CallCount = %d, want 1 (no synthesis for none)", f.mock.CallCount())
	}

	plan, _ := f.store.Get(res.PlanID)
	if plan.Steps[0].Status != planstore.StatusFailed {
		t.Errorf("status = %q", plan.Steps[0].Status)
	}
	if !strings.HasPrefix(plan.Steps[0].Result, "Error:") {
		t.Errorf("result = %q", plan.Steps[0].Result)
	}
}

func TestStableSubprocessFailureContinues(t *testing.T) {
	f := newFixture(t, Options{}, map[string]string{
		"calendar-assistant": `cat >/dev/null
echo '{"success": false, "error": "bad input"}'
`,
	})
	f.mock.SetResponse(planJSON(
		stepJSON(1, "calendar-assistant", "schedule something"),
		stepJSON(2, "final_response", "Summarize the outcome"),
	))
	f.mock.SetResponse("The calendar step failed.")

	res, err := f.st.Run(context.Background(), "schedule something")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.FailedStepCount != 1 {
		t.Errorf("FailedStepCount = %d", res.FailedStepCount)
	}
	if res.Output != "The calendar step failed." {
		t.Errorf("Output = %q", res.Output)
	}

	plan, _ := f.store.Get(res.PlanID)
	if plan.Steps[0].Status != planstore.StatusFailed || plan.Steps[0].Result != "Error: bad input" {
		t.Errorf("step 1 = %+v", plan.Steps[0])
	}
}

func TestStableStepTimeout(t *testing.T) {
	f := newFixture(t, Options{StepTimeout: 200 * time.Millisecond}, map[string]string{
		"calendar-assistant": "sleep 30\n",
	})
	f.mock.SetResponse(planJSON(
		stepJSON(1, "calendar-assistant", "schedule something"),
		stepJSON(2, "final_response", "Summarize"),
	))
	f.mock.SetResponse("One step timed out.")

	res, err := f.st.Run(context.Background(), "schedule something")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	plan, _ := f.store.Get(res.PlanID)
	if plan.Steps[0].Status != planstore.StatusFailed {
		t.Errorf("step 1 status = %q", plan.Steps[0].Status)
	}
	if !strings.HasPrefix(plan.Steps[0].Result, "Error: timeout") {
		t.Errorf("step 1 result = %q", plan.Steps[0].Result)
	}
	if plan.Steps[1].Status != planstore.StatusCompleted {
		t.Errorf("step 2 status = %q (run must continue past a timeout)", plan.Steps[1].Status)
	}
}

func TestStableCancellation(t *testing.T) {
	f := newFixture(t, Options{}, map[string]string{
		"calendar-assistant": "sleep 30\n",
	})
	f.mock.SetResponse(planJSON(
		stepJSON(1, "calendar-assistant", "schedule something"),
		stepJSON(2, "final_response", "Summarize"),
	))

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	res, err := f.st.Run(ctx, "schedule something")
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("err = %v, want ErrCancelled", err)
	}
	if res == nil {
		t.Fatal("result missing on cancellation")
	}

	plan, _ := f.store.Get(res.PlanID)
	if plan.Steps[0].Status != planstore.StatusInProgress {
		t.Errorf("step 1 status = %q, want in_progress preserved", plan.Steps[0].Status)
	}
	if plan.Steps[1].Status != planstore.StatusPending {
		t.Errorf("step 2 status = %q, want pending", plan.Steps[1].Status)
	}
}

func TestStableSynthesisFailureFatal(t *testing.T) {
	f := newFixture(t, Options{}, nil)
	f.mock.SetResponse(planJSON(stepJSON(1, "final_response", "Answer")))
	f.mock.SetError(errors.New("boom"))

	res, err := f.st.Run(context.Background(), "answer me")
	if !errors.Is(err, ErrLLM) {
		t.Fatalf("err = %v, want ErrLLM", err)
	}
	if res == nil || res.PlanID == "" {
		t.Fatalf("res = %+v, want a result carrying the plan ID", res)
	}

	plan, _ := f.store.Get(res.PlanID)
	if plan == nil {
		t.Fatalf("plan %s not in store", res.PlanID)
	}
	if plan.Steps[0].Status != planstore.StatusFailed {
		t.Errorf("status = %q", plan.Steps[0].Status)
	}
	if !strings.HasPrefix(plan.Steps[0].Result, "Error:") {
		t.Errorf("result = %q", plan.Steps[0].Result)
	}
}

func TestStableMaxFindResultsForwarded(t *testing.T) {
	f := newFixture(t, Options{MaxFindResults: 25}, map[string]string{
		"shell-commands": `input=$(cat)
case "$input" in
*max_results*) echo '{"success": true, "output": "capped"}' ;;
*) echo '{"success": false, "error": "no cap in request"}' ;;
esac
`,
	})
	f.mock.SetResponse(planJSON(stepJSON(1, "shell-commands", "find README.md")))

	res, err := f.st.Run(context.Background(), "find the readme")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	plan, _ := f.store.Get(res.PlanID)
	if plan.Steps[0].Result != "capped" {
		t.Errorf("step result = %q, want request to carry max_results", plan.Steps[0].Result)
	}
}

func TestStableSessionRecorded(t *testing.T) {
	sessions, err := session.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	f := newFixture(t, Options{Sessions: sessions}, map[string]string{"calendar-assistant": successScript})
	f.mock.SetResponse(planJSON(
		stepJSON(1, "calendar-assistant", "schedule it"),
		stepJSON(2, "final_response", "Confirm"),
	))
	f.mock.SetResponse("Done.")

	res, err := f.st.Run(context.Background(), "schedule it")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.SessionID == "" {
		t.Fatal("no session ID on result")
	}

	run, err := sessions.Load(res.SessionID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if run.Status != session.StatusComplete || run.PlanID != res.PlanID {
		t.Errorf("run = %+v", run)
	}
	var types []string
	for _, ev := range run.Events {
		types = append(types, ev.Type)
	}
	want := []string{
		session.EventDecompose,
		session.EventStepStart, session.EventSkillCall, session.EventStepEnd,
		session.EventStepStart, session.EventLLMCall, session.EventStepEnd,
		session.EventFinal,
	}
	if !reflect.DeepEqual(types, want) {
		t.Errorf("event types = %v, want %v", types, want)
	}
}
