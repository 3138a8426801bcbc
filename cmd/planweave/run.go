package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/planweave/planweave/internal/decompose"
	"github.com/planweave/planweave/internal/logging"
	"github.com/planweave/planweave/internal/orchestrator"
	"github.com/planweave/planweave/internal/session"
	"github.com/planweave/planweave/internal/subprocess"
)

// Run executes one query through the selected orchestration mode.
func (c *RunCmd) Run(app *App) error {
	query, err := c.resolveQuery()
	if err != nil {
		return err
	}
	if c.Verbose {
		app.log.SetLevel(logging.LevelDebug)
	}

	registry, err := app.openRegistry()
	if err != nil {
		return fmt.Errorf("skills: %w", err)
	}
	store, err := app.openStore()
	if err != nil {
		return fmt.Errorf("plan store: %w", err)
	}
	sessions, err := app.openSessions()
	if err != nil {
		return fmt.Errorf("sessions: %w", err)
	}
	provider, err := app.buildProvider()
	if err != nil {
		return err
	}

	dec := decompose.New(provider, registry, store, app.cfg.Skills.UserGroups, app.log)
	exec := subprocess.NewExecutor(app.log)
	opts := orchestrator.Options{
		SafeMode:       app.cfg.Executor.SafeMode,
		MaxFindResults: app.cfg.Executor.MaxFindResults,
		StepTimeout:    app.cfg.Executor.StepTimeout(),
		MaxLLMCalls:    app.cfg.Executor.MaxLLMCalls,
		Sessions:       sessions,
	}

	stable := orchestrator.NewStable(provider, dec, registry, store, exec, app.log, opts)
	baseline := orchestrator.NewBaseline(provider, dec, registry, store, exec, app.log, opts)

	if c.Compare {
		return runCompare(app, stable, baseline, sessions, query)
	}

	var res *orchestrator.Result
	switch c.Mode {
	case "baseline":
		res, err = baseline.Run(app.ctx, query)
	default:
		res, err = stable.Run(app.ctx, query)
	}
	if err != nil {
		return err
	}
	return c.printResult(res)
}

// runCompare executes the same query in both modes and reports the cost
// of each side by side. A failure in either mode fails the command.
func runCompare(app *App, stable *orchestrator.Stable, baseline *orchestrator.Baseline, sessions *session.FileStore, query string) error {
	stableStart := time.Now()
	stableRes, err := stable.Run(app.ctx, query)
	if err != nil {
		return fmt.Errorf("stable mode: %w", err)
	}
	stableWall := time.Since(stableStart)

	baseStart := time.Now()
	baseRes, err := baseline.Run(app.ctx, query)
	if err != nil {
		return fmt.Errorf("baseline mode: %w", err)
	}
	baseWall := time.Since(baseStart)

	fmt.Printf("=== stable (plan %s) ===\n%s\n\n", stableRes.PlanID, stableRes.Output)
	fmt.Printf("=== baseline (plan %s) ===\n%s\n\n", baseRes.PlanID, baseRes.Output)
	fmt.Printf("%-12s %10s %10s\n", "", "stable", "baseline")
	fmt.Printf("%-12s %10s %10s\n", "wall time", stableWall.Round(time.Millisecond), baseWall.Round(time.Millisecond))
	fmt.Printf("%-12s %10d %10d\n", "model calls", stableRes.LLMCalls, baseRes.LLMCalls)
	fmt.Printf("%-12s %10d %10d\n", "steps", stableRes.StepCount, baseRes.StepCount)
	fmt.Printf("%-12s %10d %10d\n", "failed", stableRes.FailedStepCount, baseRes.FailedStepCount)
	if s, ok := avgCacheRate(sessions, stableRes.SessionID); ok {
		b, bok := avgCacheRate(sessions, baseRes.SessionID)
		if bok {
			fmt.Printf("%-12s %9.1f%% %9.1f%%\n", "cache hits", s, b)
		} else {
			fmt.Printf("%-12s %9.1f%% %10s\n", "cache hits", s, "n/a")
		}
	}
	return nil
}

// avgCacheRate averages the prefix-cache hit rates the model reported
// across a recorded run. Self-hosted backend only; elsewhere the rates
// are absent and the row is omitted.
func avgCacheRate(sessions *session.FileStore, runID string) (float64, bool) {
	if sessions == nil || runID == "" {
		return 0, false
	}
	run, err := sessions.Load(runID)
	if err != nil {
		return 0, false
	}
	var sum float64
	var n int
	for _, ev := range run.Events {
		if ev.Type == session.EventLLMCall && ev.CacheHitRate != nil {
			sum += *ev.CacheHitRate
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

func (c *RunCmd) resolveQuery() (string, error) {
	if strings.TrimSpace(c.Query) != "" {
		return strings.TrimSpace(c.Query), nil
	}
	// No flag: read the query from stdin.
	data, err := io.ReadAll(bufio.NewReader(os.Stdin))
	if err != nil {
		return "", fmt.Errorf("read query from stdin: %w", err)
	}
	query := strings.TrimSpace(string(data))
	if query == "" {
		return "", fmt.Errorf("empty query: pass --query or pipe text on stdin")
	}
	return query, nil
}

func (c *RunCmd) printResult(res *orchestrator.Result) error {
	if c.JSON {
		out, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}
	fmt.Println(res.Output)
	fmt.Fprintf(os.Stderr, "\nplan %s: %d steps (%d failed), %d model calls\n",
		res.PlanID, res.StepCount, res.FailedStepCount, res.LLMCalls)
	return nil
}
