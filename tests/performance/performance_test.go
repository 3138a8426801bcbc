// Package performance contains performance and benchmark tests.
package performance

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/planweave/planweave/internal/planstore"
)

func benchSteps(n int) []planstore.Step {
	steps := make([]planstore.Step, n)
	for i := range steps {
		steps[i] = planstore.Step{
			StepNr:    i + 1,
			SkillName: "shell-commands",
			Rationale: "needs a filesystem search",
			SubQuery:  fmt.Sprintf("find files matching pattern %d", i+1),
			Status:    planstore.StatusPending,
		}
	}
	return steps
}

func benchStore(b *testing.B) *planstore.Store {
	b.Helper()
	store, err := planstore.NewStore(filepath.Join(b.TempDir(), "plan.txt"), nil)
	if err != nil {
		b.Fatalf("new store: %v", err)
	}
	return store
}

// BenchmarkPlanCreate measures appending a three-step plan to the file.
func BenchmarkPlanCreate(b *testing.B) {
	store := benchStore(b)
	steps := benchSteps(3)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := store.Create("benchmark query", steps, nil); err != nil {
			b.Fatalf("create: %v", err)
		}
	}
}

// BenchmarkPlanGet measures looking one plan up in a file holding many.
func BenchmarkPlanGet(b *testing.B) {
	store := benchStore(b)
	steps := benchSteps(3)
	var target string
	for i := 0; i < 100; i++ {
		id, err := store.Create(fmt.Sprintf("query number %d", i), steps, nil)
		if err != nil {
			b.Fatalf("create: %v", err)
		}
		if i == 50 {
			target = id
		}
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		plan, err := store.Get(target)
		if err != nil {
			b.Fatalf("get: %v", err)
		}
		if plan == nil {
			b.Fatal("plan not found")
		}
	}
}

// BenchmarkStepStatusUpdate measures rewriting one step's anchors in place.
func BenchmarkStepStatusUpdate(b *testing.B) {
	store := benchStore(b)
	id, err := store.Create("benchmark query", benchSteps(3), nil)
	if err != nil {
		b.Fatalf("create: %v", err)
	}
	result := "step finished"

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		// Re-asserting a status is idempotent, so the same transition
		// can run every iteration.
		if err := store.UpdateStepStatus(id, 2, planstore.StatusInProgress, &result); err != nil {
			b.Fatalf("update: %v", err)
		}
	}
}

// BenchmarkFindByQuery measures the substring scan over a populated file.
func BenchmarkFindByQuery(b *testing.B) {
	store := benchStore(b)
	steps := benchSteps(2)
	for i := 0; i < 100; i++ {
		if _, err := store.Create(fmt.Sprintf("query number %d", i), steps, nil); err != nil {
			b.Fatalf("create: %v", err)
		}
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ids, err := store.FindByQuery("number 42", false)
		if err != nil {
			b.Fatalf("find: %v", err)
		}
		if len(ids) != 1 {
			b.Fatalf("expected 1 match, got %d", len(ids))
		}
	}
}

// BenchmarkPlanList measures header scans used by the listing commands.
func BenchmarkPlanList(b *testing.B) {
	store := benchStore(b)
	steps := benchSteps(2)
	for i := 0; i < 100; i++ {
		if _, err := store.Create(fmt.Sprintf("query number %d", i), steps, nil); err != nil {
			b.Fatalf("create: %v", err)
		}
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		summaries, err := store.List()
		if err != nil {
			b.Fatalf("list: %v", err)
		}
		if len(summaries) != 100 {
			b.Fatalf("expected 100 plans, got %d", len(summaries))
		}
	}
}
