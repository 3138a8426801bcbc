package skills

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// configOverride is an optional skill.toml next to SKILL.md. Values set
// here win over the frontmatter, letting an operator retag or rename a
// skill without editing its manifest.
type configOverride struct {
	Name         string   `toml:"name"`
	Description  string   `toml:"description"`
	Version      string   `toml:"version"`
	SkillType    string   `toml:"skill_type"`
	AccessGroups []string `toml:"access_groups"`
}

func applyConfigOverride(skill *Skill) error {
	path := filepath.Join(skill.Path, "skill.toml")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	var ov configOverride
	if _, err := toml.DecodeFile(path, &ov); err != nil {
		return fmt.Errorf("failed to parse skill.toml: %w", err)
	}

	if ov.Name != "" {
		if err := validateName(ov.Name); err != nil {
			return fmt.Errorf("skill.toml name: %w", err)
		}
		skill.Name = ov.Name
	}
	if ov.Description != "" {
		skill.Description = ov.Description
	}
	if ov.Version != "" {
		skill.Version = ov.Version
	}
	if ov.SkillType != "" {
		skill.SkillType = ov.SkillType
	}
	if ov.AccessGroups != nil {
		skill.AccessGroups = ov.AccessGroups
	}
	return nil
}
