// Package main defines the planweave CLI structure using kong.
package main

// CLI defines the command-line interface.
type CLI struct {
	Config string `help:"Config file path" type:"path"`

	Run     RunCmd     `cmd:"" default:"withargs" help:"Decompose a query and execute its plan"`
	Skills  SkillsCmd  `cmd:"" help:"Inspect discovered skills"`
	Plans   PlansCmd   `cmd:"" help:"Inspect the plan file"`
	Watch   WatchCmd   `cmd:"" help:"Follow the plan file live in a pager"`
	Version VersionCmd `cmd:"" help:"Show version information"`
}

// RunCmd executes one query end to end.
type RunCmd struct {
	Query   string `short:"q" help:"The user query; reads stdin when omitted"`
	Mode    string `default:"stable" enum:"stable,baseline" help:"Orchestration mode"`
	Compare bool   `help:"Run both modes on the same query and report both results"`
	JSON    bool   `help:"Emit the run result as JSON"`
	Verbose bool   `short:"v" help:"Debug-level logging"`
}

// SkillsCmd lists discovered skills.
type SkillsCmd struct {
	List SkillsListCmd `cmd:"" default:"1" help:"List discovered skills"`
}

// SkillsListCmd is the skills listing.
type SkillsListCmd struct{}

// PlansCmd groups plan-file inspection commands.
type PlansCmd struct {
	List PlansListCmd `cmd:"" default:"1" help:"List recorded plans"`
	Show PlansShowCmd `cmd:"" help:"Show one plan with step statuses"`
	Find PlansFindCmd `cmd:"" help:"Find plans by query text"`
	Grep PlansGrepCmd `cmd:"" help:"Print shell one-liners for querying the plan file directly"`
}

// PlansListCmd lists plan headers.
type PlansListCmd struct{}

// PlansShowCmd shows one plan.
type PlansShowCmd struct {
	PlanID  string `arg:"" help:"Plan ID"`
	Session bool   `help:"Also print the session event log recorded for this plan"`
}

// PlansGrepCmd prints the grep cookbook for the plan file.
type PlansGrepCmd struct{}

// PlansFindCmd searches plans by query text.
type PlansFindCmd struct {
	Text  string `arg:"" help:"Text to match against plan queries"`
	Exact bool   `help:"Match the full query exactly instead of substring"`
}

// WatchCmd follows the plan file in a live pager.
type WatchCmd struct{}

// VersionCmd shows version information.
type VersionCmd struct{}
