package skills

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/planweave/planweave/internal/logging"
)

// maxDiscoveryDepth bounds the directory walk below the base directory.
// Skills may live directly under the base or one grouping level down.
const maxDiscoveryDepth = 2

// Registry indexes discovered skills by name. It is built once at
// startup and immutable afterwards.
type Registry struct {
	byName   map[string]*Skill
	excluded map[string]bool
	log      *logging.Logger
}

// RegistryOptions controls discovery.
type RegistryOptions struct {
	// Exclude suppresses skills by name from every listing.
	Exclude []string
	Logger  *logging.Logger
}

// NewRegistry walks baseDir and loads every qualifying skill directory.
// A malformed skill directory is logged and skipped. Two directories
// declaring the same skill name is a startup error.
func NewRegistry(baseDir string, opts RegistryOptions) (*Registry, error) {
	log := opts.Logger
	if log == nil {
		log = logging.New()
	}
	r := &Registry{
		byName:   make(map[string]*Skill),
		excluded: make(map[string]bool),
		log:      log.WithComponent("skills"),
	}
	for _, name := range opts.Exclude {
		r.excluded[name] = true
	}

	dirs, err := candidateDirs(baseDir)
	if err != nil {
		return nil, err
	}

	for _, dir := range dirs {
		skill, err := Load(dir)
		if err != nil {
			r.log.Warn("skipping invalid skill directory", map[string]interface{}{
				"dir":   dir,
				"error": err.Error(),
			})
			continue
		}
		if prev, ok := r.byName[skill.Name]; ok {
			return nil, fmt.Errorf("duplicate skill name %q in %s and %s", skill.Name, prev.Path, skill.Path)
		}
		r.byName[skill.Name] = skill
		r.log.Debug("skill loaded", map[string]interface{}{
			"name": skill.Name,
			"path": skill.Path,
		})
	}

	r.log.Info("skill discovery complete", map[string]interface{}{
		"base":  baseDir,
		"count": len(r.byName),
	})
	return r, nil
}

// candidateDirs returns every directory within maxDiscoveryDepth of
// baseDir that contains a SKILL.md. A missing base directory yields an
// empty registry, not an error.
func candidateDirs(baseDir string) ([]string, error) {
	var dirs []string
	root, err := os.ReadDir(baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read skills directory: %w", err)
	}

	var walk func(dir string, depth int) error
	walk = func(dir string, depth int) error {
		if hasManifest(dir) {
			dirs = append(dirs, dir)
			return nil
		}
		if depth >= maxDiscoveryDepth {
			return nil
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
				continue
			}
			if err := walk(filepath.Join(dir, e.Name()), depth+1); err != nil {
				return err
			}
		}
		return nil
	}

	for _, e := range root {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if err := walk(filepath.Join(baseDir, e.Name()), 1); err != nil {
			return nil, err
		}
	}
	sort.Strings(dirs)
	return dirs, nil
}

func hasManifest(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, "SKILL.md"))
	return err == nil
}

// GetSkill returns the skill by name, or nil when unknown or excluded.
func (r *Registry) GetSkill(name string) *Skill {
	if r.excluded[name] {
		return nil
	}
	return r.byName[name]
}

// ListSkills returns skills visible to the given user groups, ordered
// by name. Excluded skills are suppressed.
func (r *Registry) ListSkills(userGroups []string) []*Skill {
	var out []*Skill
	for name, skill := range r.byName {
		if r.excluded[name] {
			continue
		}
		if !skill.Accessible(userGroups) {
			continue
		}
		out = append(out, skill)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// SkillsDescription renders the `- name: description` block embedded in
// the decomposer's system prompt. Output is deterministic for the same
// inputs; any change here invalidates the model's prefix cache.
func (r *Registry) SkillsDescription(userGroups []string) string {
	var b strings.Builder
	for _, skill := range r.ListSkills(userGroups) {
		b.WriteString("- ")
		b.WriteString(skill.Name)
		b.WriteString(": ")
		b.WriteString(skill.Description)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// Len returns the number of indexed skills including excluded ones.
func (r *Registry) Len() int {
	return len(r.byName)
}
