package skills

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const calendarManifest = `---
name: calendar-assistant
description: Creates calendar events from natural language.
version: "1.0"
skill_type: productivity
tools:
  - name: natural_language_to_ics
    description: Convert a natural-language request into an ICS event.
    parameter_schema:
      type: object
      properties:
        query:
          type: string
      required: [query]
---

# Calendar Assistant

Turns free-form scheduling requests into calendar entries.
`

// writeSkill creates a skill directory with a manifest and entry script.
func writeSkill(t *testing.T, base, dir, manifest, entryScript string) string {
	t.Helper()
	skillDir := filepath.Join(base, dir)
	if err := os.MkdirAll(filepath.Join(skillDir, "scripts"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(skillDir, "SKILL.md"), []byte(manifest), 0o644); err != nil {
		t.Fatal(err)
	}
	if entryScript != "" {
		script := filepath.Join(skillDir, "scripts", entryScript)
		if err := os.WriteFile(script, []byte("#!/bin/sh\necho '{}'\n"), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	return skillDir
}

func manifestFor(name, desc string, groups ...string) string {
	var b strings.Builder
	b.WriteString("---\nname: " + name + "\ndescription: " + desc + "\n")
	if len(groups) > 0 {
		b.WriteString("access_groups: [" + strings.Join(groups, ", ") + "]\n")
	}
	b.WriteString("---\n\nBody.\n")
	return b.String()
}

func TestParseManifest(t *testing.T) {
	skill, err := Parse(calendarManifest)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if skill.Name != "calendar-assistant" {
		t.Errorf("Name = %q", skill.Name)
	}
	if skill.Version != "1.0" {
		t.Errorf("Version = %q", skill.Version)
	}
	if len(skill.Tools) != 1 || skill.Tools[0].Name != "natural_language_to_ics" {
		t.Fatalf("Tools = %+v", skill.Tools)
	}
	if !strings.Contains(skill.Instructions, "Calendar Assistant") {
		t.Errorf("Instructions missing body: %q", skill.Instructions)
	}
}

func TestParseRejectsBadManifests(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"no frontmatter", "just a body"},
		{"unclosed frontmatter", "---\nname: x\ndescription: y\n"},
		{"missing name", "---\ndescription: y\n---\nbody"},
		{"missing description", "---\nname: x\n---\nbody"},
		{"uppercase name", "---\nname: Loud\ndescription: y\n---\nbody"},
		{"reserved name", "---\nname: none\ndescription: y\n---\nbody"},
		{"bad schema", "---\nname: x\ndescription: y\ntools:\n  - name: t\n    parameter_schema:\n      type: 42\n---\nbody"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse(tt.content); err == nil {
				t.Error("Parse accepted a bad manifest")
			}
		})
	}
}

func TestToolParamValidation(t *testing.T) {
	skill, err := Parse(calendarManifest)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	tool := skill.Tools[0]
	if err := tool.ValidateParams(map[string]interface{}{"query": "book a slot"}); err != nil {
		t.Errorf("valid parameters rejected: %v", err)
	}
	if err := tool.ValidateParams(map[string]interface{}{}); err == nil {
		t.Error("missing required parameter accepted")
	}
}

func TestLoadFindsEntryScript(t *testing.T) {
	base := t.TempDir()
	dir := writeSkill(t, base, "calendar-assistant", calendarManifest, "calendar_skill.py")

	skill, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := filepath.Join(dir, "scripts", "calendar_skill.py")
	if skill.EntryScript != want {
		t.Errorf("EntryScript = %q, want %q", skill.EntryScript, want)
	}
}

func TestLoadRejectsAmbiguousEntryScripts(t *testing.T) {
	base := t.TempDir()
	dir := writeSkill(t, base, "calendar-assistant", calendarManifest, "calendar_skill.py")
	extra := filepath.Join(dir, "scripts", "other_skill.sh")
	if err := os.WriteFile(extra, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(dir); err == nil {
		t.Error("Load accepted a skill with two entry scripts")
	}

	// And none at all.
	dir2 := writeSkill(t, base, "bare", manifestFor("bare", "no scripts"), "")
	if _, err := Load(dir2); err == nil {
		t.Error("Load accepted a skill with no entry script")
	}
}

func TestConfigOverride(t *testing.T) {
	base := t.TempDir()
	dir := writeSkill(t, base, "calendar-assistant", calendarManifest, "calendar_skill.py")
	override := "description = \"Overridden description\"\naccess_groups = [\"staff\"]\n"
	if err := os.WriteFile(filepath.Join(dir, "skill.toml"), []byte(override), 0o644); err != nil {
		t.Fatal(err)
	}

	skill, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if skill.Description != "Overridden description" {
		t.Errorf("Description = %q", skill.Description)
	}
	if len(skill.AccessGroups) != 1 || skill.AccessGroups[0] != "staff" {
		t.Errorf("AccessGroups = %v", skill.AccessGroups)
	}
}

func TestRegistryDiscovery(t *testing.T) {
	base := t.TempDir()
	writeSkill(t, base, "calendar-assistant", calendarManifest, "calendar_skill.py")
	writeSkill(t, base, "nvidia-ideagen", manifestFor("nvidia-ideagen", "Generates ideas."), "ideagen_skill.py")
	// One level of grouping is allowed.
	writeSkill(t, base, "experimental/shell-commands", manifestFor("shell-commands", "Runs shell helpers."), "shell_skill.sh")
	// Broken directory: manifest without scripts. Skipped, not fatal.
	writeSkill(t, base, "broken", manifestFor("broken", "No entry script."), "")

	r, err := NewRegistry(base, RegistryOptions{})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	if r.Len() != 3 {
		t.Errorf("Len = %d, want 3", r.Len())
	}
	if r.GetSkill("shell-commands") == nil {
		t.Error("nested skill not discovered")
	}
	if r.GetSkill("broken") != nil {
		t.Error("broken skill should have been skipped")
	}
}

func TestRegistryDuplicateNamesFatal(t *testing.T) {
	base := t.TempDir()
	writeSkill(t, base, "one", manifestFor("same-name", "First."), "one_skill.py")
	writeSkill(t, base, "two", manifestFor("same-name", "Second."), "two_skill.py")

	if _, err := NewRegistry(base, RegistryOptions{}); err == nil {
		t.Error("NewRegistry accepted duplicate skill names")
	}
}

func TestRegistryMissingBaseDir(t *testing.T) {
	r, err := NewRegistry(filepath.Join(t.TempDir(), "nope"), RegistryOptions{})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	if r.Len() != 0 {
		t.Errorf("Len = %d, want 0", r.Len())
	}
}

func TestAccessGroupsFilterListing(t *testing.T) {
	base := t.TempDir()
	writeSkill(t, base, "calendar-assistant", calendarManifest, "calendar_skill.py")
	writeSkill(t, base, "internal-tool", manifestFor("internal-tool", "Staff only.", "staff"), "internal_skill.py")

	r, err := NewRegistry(base, RegistryOptions{})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	public := r.ListSkills(nil)
	if len(public) != 1 || public[0].Name != "calendar-assistant" {
		t.Errorf("public listing = %v", names(public))
	}
	staff := r.ListSkills([]string{"staff"})
	if len(staff) != 2 {
		t.Errorf("staff listing = %v", names(staff))
	}
}

func TestExclusionList(t *testing.T) {
	base := t.TempDir()
	writeSkill(t, base, "calendar-assistant", calendarManifest, "calendar_skill.py")
	writeSkill(t, base, "nvidia-ideagen", manifestFor("nvidia-ideagen", "Generates ideas."), "ideagen_skill.py")

	r, err := NewRegistry(base, RegistryOptions{Exclude: []string{"nvidia-ideagen"}})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	if r.GetSkill("nvidia-ideagen") != nil {
		t.Error("excluded skill resolvable via GetSkill")
	}
	if strings.Contains(r.SkillsDescription(nil), "nvidia-ideagen") {
		t.Error("excluded skill present in SkillsDescription")
	}
}

func TestSkillsDescriptionStable(t *testing.T) {
	base := t.TempDir()
	writeSkill(t, base, "nvidia-ideagen", manifestFor("nvidia-ideagen", "Generates ideas."), "ideagen_skill.py")
	writeSkill(t, base, "calendar-assistant", calendarManifest, "calendar_skill.py")

	r, err := NewRegistry(base, RegistryOptions{})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	want := "- calendar-assistant: Creates calendar events from natural language.\n" +
		"- nvidia-ideagen: Generates ideas."
	got := r.SkillsDescription(nil)
	if got != want {
		t.Errorf("SkillsDescription = %q, want %q", got, want)
	}
	// Byte-identical across calls.
	for i := 0; i < 5; i++ {
		if again := r.SkillsDescription(nil); again != got {
			t.Fatalf("SkillsDescription changed between calls: %q vs %q", again, got)
		}
	}
}

func names(skills []*Skill) []string {
	var out []string
	for _, s := range skills {
		out = append(out, s.Name)
	}
	return out
}
