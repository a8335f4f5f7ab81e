// Package skills loads stage worker definitions.
// A definition is a markdown file with YAML frontmatter naming the stage, the
// worker's role and its tool hooks; the body is the worker's instruction.
package skills

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/vinayprograms/hackmate/internal/stage"
)

//go:embed defaults/*.md
var defaultFS embed.FS

// Skill describes how one pipeline stage is performed.
type Skill struct {
	// From frontmatter
	Stage stage.ID `yaml:"stage"`
	Role  string   `yaml:"role"`
	Tools []string `yaml:"tools,omitempty"`

	// From content
	Instructions string `yaml:"-"`

	// Location; empty for built-in definitions
	Path string `yaml:"-"`
}

// Set maps stages to their definitions.
type Set map[stage.ID]*Skill

// Parse parses a definition file.
func Parse(content string) (*Skill, error) {
	frontmatter, body, err := splitFrontmatter(content)
	if err != nil {
		return nil, err
	}

	skill := &Skill{}
	if err := yaml.Unmarshal([]byte(frontmatter), skill); err != nil {
		return nil, fmt.Errorf("invalid frontmatter: %w", err)
	}

	if skill.Stage == "" {
		return nil, fmt.Errorf("missing required field: stage")
	}
	if !stage.IsPipelineStage(skill.Stage) {
		return nil, fmt.Errorf("unknown stage %q", skill.Stage)
	}
	if skill.Role == "" {
		return nil, fmt.Errorf("missing required field: role")
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
	bodyStart := -1
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			bodyStart = i + 1
			break
		}
		fmLines = append(fmLines, lines[i])
	}
	if bodyStart < 0 {
		return "", "", fmt.Errorf("unclosed frontmatter")
	}

	frontmatter = strings.Join(fmLines, "\n")
	if bodyStart < len(lines) {
		body = strings.Join(lines[bodyStart:], "\n")
	}
	return frontmatter, body, nil
}

// Defaults returns the built-in definitions for every stage.
func Defaults() (Set, error) {
	entries, err := defaultFS.ReadDir("defaults")
	if err != nil {
		return nil, err
	}
	set := make(Set)
	for _, entry := range entries {
		data, err := defaultFS.ReadFile("defaults/" + entry.Name())
		if err != nil {
			return nil, err
		}
		skill, err := Parse(string(data))
		if err != nil {
			return nil, fmt.Errorf("built-in %s: %w", entry.Name(), err)
		}
		set[skill.Stage] = skill
	}
	return set, nil
}

// Load returns the built-in definitions overridden by any *.md files in dir.
// An empty or missing dir yields the defaults.
func Load(dir string) (Set, error) {
	set, err := Defaults()
	if err != nil {
		return nil, err
	}
	if dir == "" {
		return set, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return set, nil
		}
		return nil, err
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".md" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		skill, err := Parse(string(data))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		skill.Path = path
		set[skill.Stage] = skill
	}
	return set, nil
}

// Get returns the definition for a stage.
func (s Set) Get(id stage.ID) (*Skill, bool) {
	skill, ok := s[id]
	return skill, ok
}

// Stages lists the defined stages in pipeline order.
func (s Set) Stages() []stage.ID {
	var ids []stage.ID
	for id := range s {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return stage.Position(ids[i]) < stage.Position(ids[j]) })
	return ids
}

// HasTool reports whether the skill lists the named tool.
func (s *Skill) HasTool(name string) bool {
	for _, t := range s.Tools {
		if t == name {
			return true
		}
	}
	return false
}
