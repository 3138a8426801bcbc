// Package planview renders plan files for the terminal: static listings
// for the plans subcommands and a live pager that follows the plan file
// while a run mutates it.
package planview

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/planweave/planweave/internal/planstore"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	skillStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))

	pendingStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	inProgressStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("11"))
	completedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	failedStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))

	divider = dimStyle.Render(strings.Repeat("━", 60))
)

func statusStyle(status string) lipgloss.Style {
	switch status {
	case planstore.StatusInProgress:
		return inProgressStyle
	case planstore.StatusCompleted:
		return completedStyle
	case planstore.StatusFailed:
		return failedStyle
	}
	return pendingStyle
}

func statusGlyph(status string) string {
	switch status {
	case planstore.StatusInProgress:
		return "▶"
	case planstore.StatusCompleted:
		return "✓"
	case planstore.StatusFailed:
		return "✗"
	}
	return "○"
}

// RenderPlan renders one plan with per-step status coloring.
func RenderPlan(p *planstore.Plan) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Plan "+p.PlanID) + "\n")
	b.WriteString(dimStyle.Render("query: ") + p.Query + "\n")
	b.WriteString(dimStyle.Render("created: "+p.Timestamp) + "\n")
	b.WriteString(divider + "\n")
	for _, st := range p.Steps {
		style := statusStyle(st.Status)
		fmt.Fprintf(&b, "%s %s %s\n",
			style.Render(statusGlyph(st.Status)),
			dimStyle.Render(fmt.Sprintf("step %d", st.StepNr)),
			skillStyle.Render(st.SkillName))
		if st.SubQuery != "" {
			b.WriteString("    " + st.SubQuery + "\n")
		}
		if st.Result != "" {
			b.WriteString("    " + style.Render(st.Result) + "\n")
		}
	}
	b.WriteString(divider + "\n")
	b.WriteString(renderTally(p) + "\n")
	return b.String()
}

func renderTally(p *planstore.Plan) string {
	var done, failed int
	for _, st := range p.Steps {
		switch st.Status {
		case planstore.StatusCompleted:
			done++
		case planstore.StatusFailed:
			failed++
		}
	}
	tally := fmt.Sprintf("%d/%d steps completed", done, len(p.Steps))
	if failed > 0 {
		tally += failedStyle.Render(fmt.Sprintf(", %d failed", failed))
	}
	return dimStyle.Render(tally)
}

// RenderList renders a one-line-per-plan summary from plan headers.
func RenderList(plans []planstore.Summary) string {
	if len(plans) == 0 {
		return dimStyle.Render("no plans recorded") + "\n"
	}
	var b strings.Builder
	for _, p := range plans {
		fmt.Fprintf(&b, "%s  %s  %s\n",
			titleStyle.Render(p.PlanID),
			dimStyle.Render(fmt.Sprintf("%2d steps", p.TotalSteps)),
			p.Query)
	}
	return b.String()
}

// RenderFile renders every plan in the store, separated by blank lines.
func RenderFile(store *planstore.Store) (string, error) {
	summaries, err := store.List()
	if err != nil {
		return "", err
	}
	if len(summaries) == 0 {
		return dimStyle.Render("plan file is empty") + "\n", nil
	}
	var parts []string
	for _, s := range summaries {
		p, err := store.Get(s.PlanID)
		if err != nil {
			return "", err
		}
		if p == nil {
			continue
		}
		parts = append(parts, RenderPlan(p))
	}
	return strings.Join(parts, "\n"), nil
}
