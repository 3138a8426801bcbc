package main

import (
	"fmt"
	"strings"

	"github.com/planweave/planweave/internal/planview"
)

// Run prints the skills the configured registry exposes.
func (c *SkillsListCmd) Run(app *App) error {
	registry, err := app.openRegistry()
	if err != nil {
		return err
	}
	desc := registry.SkillsDescription(app.cfg.Skills.UserGroups)
	if strings.TrimSpace(desc) == "" {
		fmt.Println("no skills available")
		return nil
	}
	fmt.Println(desc)
	return nil
}

// Run lists every plan recorded in the plan file.
func (c *PlansListCmd) Run(app *App) error {
	store, err := app.openStore()
	if err != nil {
		return err
	}
	summaries, err := store.List()
	if err != nil {
		return err
	}
	fmt.Println(planview.RenderList(summaries))
	return nil
}

// Run shows one plan with its step statuses.
func (c *PlansShowCmd) Run(app *App) error {
	store, err := app.openStore()
	if err != nil {
		return err
	}
	plan, err := store.Get(c.PlanID)
	if err != nil {
		return err
	}
	if plan == nil {
		return fmt.Errorf("plan %s not found", c.PlanID)
	}
	fmt.Println(planview.RenderPlan(plan))
	if c.Session {
		return printSessions(app, c.PlanID)
	}
	return nil
}

// printSessions prints the event log of every recorded run that
// produced the given plan.
func printSessions(app *App, planID string) error {
	sessions, err := app.openSessions()
	if err != nil {
		return err
	}
	if sessions == nil {
		return fmt.Errorf("no session directory configured")
	}
	ids, err := sessions.List()
	if err != nil {
		return err
	}
	found := false
	for _, id := range ids {
		run, err := sessions.Load(id)
		if err != nil || run.PlanID != planID {
			continue
		}
		found = true
		fmt.Printf("\nsession %s (%s, %s)\n", run.ID, run.Mode, run.Status)
		for _, ev := range run.Events {
			line := fmt.Sprintf("  %3d %-12s", ev.Seq, ev.Type)
			if ev.Step > 0 {
				line += fmt.Sprintf(" step=%d", ev.Step)
			}
			if ev.Skill != "" {
				line += " skill=" + ev.Skill
			}
			if ev.Model != "" {
				line += " model=" + ev.Model
			}
			if ev.DurationMs > 0 {
				line += fmt.Sprintf(" dur=%dms", ev.DurationMs)
			}
			if ev.CacheHitRate != nil {
				line += fmt.Sprintf(" cache=%.1f%%", *ev.CacheHitRate)
			}
			if ev.Error != "" {
				line += " error=" + ev.Error
			}
			fmt.Println(line)
		}
	}
	if !found {
		fmt.Println("no sessions recorded for this plan")
	}
	return nil
}

// Run prints the shell cookbook for the plan file.
func (c *PlansGrepCmd) Run(app *App) error {
	store, err := app.openStore()
	if err != nil {
		return err
	}
	fmt.Println(store.GrepExamples())
	return nil
}

// Run searches plans by their original query text.
func (c *PlansFindCmd) Run(app *App) error {
	store, err := app.openStore()
	if err != nil {
		return err
	}
	ids, err := store.FindByQuery(c.Text, c.Exact)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		fmt.Println("no matching plans")
		return nil
	}
	for _, id := range ids {
		plan, err := store.Get(id)
		if err != nil {
			return err
		}
		if plan == nil {
			continue
		}
		fmt.Println(planview.RenderPlan(plan))
	}
	return nil
}

// watchTitle builds the pager title for the live viewer. Plain ASCII
// only, so it renders the same on any terminal.
func watchTitle(file string) string {
	return "planweave - " + file
}

// Run opens the live plan viewer on the configured plan file.
func (c *WatchCmd) Run(app *App) error {
	store, err := app.openStore()
	if err != nil {
		return err
	}
	pager := planview.NewPager(watchTitle(app.cfg.Plans.File))
	return pager.RunLive(app.cfg.Plans.File, func() (string, error) {
		return planview.RenderFile(store)
	})
}
