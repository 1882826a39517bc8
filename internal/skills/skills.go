// Package skills discovers workspace and global skill files.
//
// A skill is a directory containing a SKILL.md file with YAML frontmatter
// (name, description) followed by a markdown body. Skills are surfaced to the
// model as skill.<slug> tools whose execution returns the body text.
package skills

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/crabclaw/crabclaw/pkg/models"
)

// SkillFilename is the per-skill manifest file name.
const SkillFilename = "SKILL.md"

// Skill is one discovered skill.
type Skill struct {
	// Slug is the directory name, used in the tool name skill.<slug>.
	Slug        string
	Name        string
	Description string
	Body        string
	Path        string
	// Source is "project" for workspace skills, "global" otherwise.
	Source string
}

type frontmatter struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// Discover scans the workspace skill directory (.agent/skills) and the
// optional global directory, in that order. A project skill shadows a global
// one with the same slug. Unparseable skills are logged and skipped.
func Discover(workspace, globalDir string) []Skill {
	logger := slog.Default().With("component", "skills")

	bySlug := map[string]Skill{}
	var order []string

	scan := func(dir, source string) {
		for _, skill := range discoverDir(dir, source, logger) {
			if _, exists := bySlug[skill.Slug]; !exists {
				order = append(order, skill.Slug)
			} else if bySlug[skill.Slug].Source == models.SourceProject {
				continue
			}
			bySlug[skill.Slug] = skill
		}
	}

	scan(filepath.Join(workspace, ".agent", "skills"), models.SourceProject)
	if strings.TrimSpace(globalDir) != "" {
		scan(globalDir, models.SourceGlobal)
	}

	sort.Strings(order)
	out := make([]Skill, 0, len(order))
	for _, slug := range order {
		out = append(out, bySlug[slug])
	}
	return out
}

func discoverDir(dir, source string, logger *slog.Logger) []Skill {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var out []Skill
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name(), SkillFilename)
		skill, err := ParseSkillFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				logger.Warn("skipping skill", "path", path, "error", err)
			}
			continue
		}
		skill.Slug = entry.Name()
		skill.Source = source
		out = append(out, skill)
	}
	return out
}

// ParseSkillFile reads a SKILL.md file, splitting YAML frontmatter from the
// markdown body. Files without frontmatter use the first line as name.
func ParseSkillFile(path string) (Skill, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Skill{}, err
	}

	skill := Skill{Path: path}
	content := string(data)

	if strings.HasPrefix(content, "---\n") {
		rest := content[4:]
		end := strings.Index(rest, "\n---")
		if end < 0 {
			return Skill{}, fmt.Errorf("unterminated frontmatter in %s", path)
		}
		var fm frontmatter
		if err := yaml.Unmarshal([]byte(rest[:end]), &fm); err != nil {
			return Skill{}, fmt.Errorf("parse frontmatter in %s: %w", path, err)
		}
		skill.Name = fm.Name
		skill.Description = fm.Description
		body := rest[end+4:]
		skill.Body = strings.TrimLeft(body, "\n")
	} else {
		skill.Body = content
	}

	if skill.Name == "" {
		skill.Name = filepath.Base(filepath.Dir(path))
	}
	if strings.TrimSpace(skill.Body) == "" {
		return Skill{}, fmt.Errorf("skill %s has no body", path)
	}
	return skill, nil
}
