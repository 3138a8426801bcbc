// Package planstore persists query decomposition plans in a single
// grep-friendly anchor-format text file. Fields are `@KEY:value@`
// tokens addressable by standard stream tools; mutations rewrite only
// the targeted anchors.
package planstore

import (
	"strings"
	"unicode/utf8"
)

// Step status values. Transitions only move forward:
// pending -> in_progress -> {completed, failed}.
const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// statusRank orders statuses for transition checks. Terminal states
// share a rank so neither can replace the other.
var statusRank = map[string]int{
	StatusPending:    0,
	StatusInProgress: 1,
	StatusCompleted:  2,
	StatusFailed:     2,
}

// ValidStatus reports whether s is a known step status.
func ValidStatus(s string) bool {
	_, ok := statusRank[s]
	return ok
}

// ValidTransition reports whether a step may move from old to new.
// Re-asserting the current status is allowed so updates are idempotent.
func ValidTransition(old, new string) bool {
	if old == new {
		return true
	}
	or, ok := statusRank[old]
	if !ok {
		return false
	}
	nr, ok := statusRank[new]
	if !ok {
		return false
	}
	return nr > or
}

// Step is one entry in a plan.
type Step struct {
	StepNr    int    `json:"step_nr"`
	SkillName string `json:"skill_name"`
	Rationale string `json:"rationale"`
	SubQuery  string `json:"sub_query,omitempty"`
	Status    string `json:"status"`
	Result    string `json:"result,omitempty"`
}

// Plan is a totally ordered sequence of steps produced from one query.
type Plan struct {
	PlanID     string            `json:"plan_id"`
	PlanNumber string            `json:"plan_number"`
	Timestamp  string            `json:"timestamp"`
	Query      string            `json:"query"`
	MultiSteps bool              `json:"multi_steps"`
	TotalSteps int               `json:"total_steps"`
	Context    map[string]string `json:"context,omitempty"`
	Steps      []Step            `json:"steps"`
}

// Summary is the header metadata of one plan, used for listings.
type Summary struct {
	PlanNumber string `json:"plan_number"`
	PlanID     string `json:"plan_id"`
	Timestamp  string `json:"timestamp"`
	Query      string `json:"query"`
	MultiSteps bool   `json:"multi_steps"`
	TotalSteps int    `json:"total_steps"`
}

// maxResultLen bounds a step result stored in the file.
const maxResultLen = 500

// sanitizeValue makes a value safe for an anchor field: the reserved
// `@` becomes `(at)` (one-way), newlines become spaces, and the value
// is truncated to limit with a trailing ellipsis.
func sanitizeValue(s string, limit int) string {
	s = strings.ReplaceAll(s, "@", "(at)")
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", " ")
	return Truncate(s, limit)
}

// Truncate shortens s to at most limit bytes, replacing the tail with
// "..." when cut. Cuts land on rune boundaries so the result stays
// valid UTF-8.
func Truncate(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	if limit <= 3 {
		return s[:runeFloor(s, limit)]
	}
	return s[:runeFloor(s, limit-3)] + "..."
}

// runeFloor returns the largest index <= i that starts a rune in s.
func runeFloor(s string, i int) int {
	for i > 0 && !utf8.RuneStart(s[i]) {
		i--
	}
	return i
}
