// Package skills discovers and indexes callable skills. A skill is a
// directory containing a SKILL.md manifest and a scripts/ subdirectory
// with exactly one entry script implementing the subprocess protocol.
package skills

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Reserved skill names handled inline by the orchestrator. They never
// resolve to registry entries.
const (
	ReservedFinalResponse = "final_response"
	ReservedChitchat      = "chitchat"
	ReservedNone          = "none"
)

// IsReserved reports whether name is one of the reserved skill names.
func IsReserved(name string) bool {
	switch name {
	case ReservedFinalResponse, ReservedChitchat, ReservedNone:
		return true
	}
	return false
}

// Skill represents a discovered skill.
type Skill struct {
	// From frontmatter
	Name         string           `yaml:"name"`
	Description  string           `yaml:"description"`
	Version      string           `yaml:"version,omitempty"`
	SkillType    string           `yaml:"skill_type,omitempty"`
	AccessGroups []string         `yaml:"access_groups,omitempty"`
	Tools        []ToolDescriptor `yaml:"tools,omitempty"`

	// From content
	Instructions string `yaml:"-"`

	// Location
	Path        string `yaml:"-"`
	EntryScript string `yaml:"-"`
}

// Accessible reports whether the skill is visible to a user holding the
// given groups. An empty access_groups list means public.
func (s *Skill) Accessible(userGroups []string) bool {
	if len(s.AccessGroups) == 0 {
		return true
	}
	for _, g := range s.AccessGroups {
		for _, u := range userGroups {
			if g == u {
				return true
			}
		}
	}
	return false
}

// Load loads a skill from a directory. The directory must contain
// SKILL.md and a scripts/ subdirectory with exactly one entry script
// named *_skill.* .
func Load(skillDir string) (*Skill, error) {
	content, err := os.ReadFile(filepath.Join(skillDir, "SKILL.md"))
	if err != nil {
		return nil, fmt.Errorf("failed to read SKILL.md: %w", err)
	}

	skill, err := Parse(string(content))
	if err != nil {
		return nil, err
	}
	skill.Path = skillDir

	entry, err := findEntryScript(skillDir)
	if err != nil {
		return nil, err
	}
	skill.EntryScript = entry

	if err := applyConfigOverride(skill); err != nil {
		return nil, err
	}
	return skill, nil
}

// Parse parses SKILL.md content: YAML frontmatter plus markdown body.
func Parse(content string) (*Skill, error) {
	frontmatter, body, err := splitFrontmatter(content)
	if err != nil {
		return nil, err
	}

	skill := &Skill{}
	if err := yaml.Unmarshal([]byte(frontmatter), skill); err != nil {
		return nil, fmt.Errorf("invalid frontmatter: %w", err)
	}

	if skill.Name == "" {
		return nil, fmt.Errorf("missing required field: name")
	}
	if skill.Description == "" {
		return nil, fmt.Errorf("missing required field: description")
	}
	if err := validateName(skill.Name); err != nil {
		return nil, err
	}
	for i := range skill.Tools {
		if err := skill.Tools[i].compile(); err != nil {
			return nil, fmt.Errorf("tool %q: %w", skill.Tools[i].Name, err)
		}
	}

	skill.Instructions = strings.TrimSpace(body)
	return skill, nil
}

// splitFrontmatter extracts YAML frontmatter from markdown.
func splitFrontmatter(content string) (frontmatter, body string, err error) {
	lines := strings.Split(content, "\n")

	if len(lines) == 0 || strings.TrimSpace(lines[0]) != "---" {
		return "", "", fmt.Errorf("missing frontmatter delimiter")
	}

	var fmLines []string
	var bodyStart int
	inFrontmatter := true

	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			inFrontmatter = false
			bodyStart = i + 1
			break
		}
		if inFrontmatter {
			fmLines = append(fmLines, lines[i])
		}
	}

	if inFrontmatter {
		return "", "", fmt.Errorf("unclosed frontmatter")
	}

	frontmatter = strings.Join(fmLines, "\n")
	if bodyStart < len(lines) {
		body = strings.Join(lines[bodyStart:], "\n")
	}

	return frontmatter, body, nil
}

// validateName enforces the skill naming convention: 1-64 characters of
// lowercase letters, digits, and single hyphens. Reserved names are
// rejected so a manifest can never shadow orchestrator behavior.
func validateName(name string) error {
	if len(name) == 0 || len(name) > 64 {
		return fmt.Errorf("name must be 1-64 characters")
	}
	if strings.HasPrefix(name, "-") || strings.HasSuffix(name, "-") {
		return fmt.Errorf("name cannot start or end with hyphen")
	}
	if strings.Contains(name, "--") {
		return fmt.Errorf("name cannot contain consecutive hyphens")
	}
	for _, r := range name {
		if !((r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' || r == '_') {
			return fmt.Errorf("name can only contain lowercase letters, numbers, hyphens, and underscores")
		}
	}
	if IsReserved(name) {
		return fmt.Errorf("name %q is reserved", name)
	}
	return nil
}

// findEntryScript locates the single *_skill.* entry script under
// scripts/. Zero or more than one candidate is an error.
func findEntryScript(skillDir string) (string, error) {
	scriptsDir := filepath.Join(skillDir, "scripts")
	entries, err := os.ReadDir(scriptsDir)
	if err != nil {
		return "", fmt.Errorf("failed to read scripts directory: %w", err)
	}

	var candidates []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		base := entry.Name()
		ext := filepath.Ext(base)
		stem := strings.TrimSuffix(base, ext)
		if strings.HasSuffix(stem, "_skill") && ext != "" {
			candidates = append(candidates, filepath.Join(scriptsDir, base))
		}
	}

	switch len(candidates) {
	case 0:
		return "", fmt.Errorf("no entry script (*_skill.*) in %s", scriptsDir)
	case 1:
		return candidates[0], nil
	default:
		return "", fmt.Errorf("multiple entry scripts in %s: %s", scriptsDir, strings.Join(candidates, ", "))
	}
}
