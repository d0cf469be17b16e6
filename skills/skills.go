// Package skills discovers SKILL.md files and prepares them for system
// prompt injection. Each skill lives in its own subdirectory of the skills
// directory and starts with a YAML frontmatter block carrying its name and
// description.
package skills

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Skill describes one discovered skill.
type Skill struct {
	Name        string
	Description string
	Path        string // absolute or workspace-relative path to SKILL.md
}

type frontmatter struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// Loader scans a skills directory. List results are cached until Reload.
type Loader struct {
	dir string

	mu     sync.RWMutex
	cached []Skill
	loaded bool
}

func NewLoader(dir string) *Loader {
	return &Loader{dir: dir}
}

// Dir returns the watched skills directory.
func (l *Loader) Dir() string { return l.dir }

// List returns all discovered skills sorted by name.
func (l *Loader) List() []Skill {
	l.mu.RLock()
	if l.loaded {
		defer l.mu.RUnlock()
		return l.cached
	}
	l.mu.RUnlock()
	l.Reload()

	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cached
}

// Reload rescans the skills directory, replacing the cache.
func (l *Loader) Reload() {
	var found []Skill
	entries, err := os.ReadDir(l.dir)
	if err == nil {
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			path := filepath.Join(l.dir, e.Name(), "SKILL.md")
			data, err := os.ReadFile(path)
			if err != nil {
				continue
			}
			skill := Skill{Name: e.Name(), Path: path}
			if meta := parseFrontmatter(string(data)); meta != nil {
				if meta.Name != "" {
					skill.Name = meta.Name
				}
				skill.Description = meta.Description
			}
			found = append(found, skill)
		}
	}
	sort.Slice(found, func(i, j int) bool { return found[i].Name < found[j].Name })

	l.mu.Lock()
	l.cached = found
	l.loaded = true
	l.mu.Unlock()
}

// Content returns a skill's SKILL.md body with the frontmatter stripped.
func (l *Loader) Content(name string) (string, bool) {
	for _, s := range l.List() {
		if s.Name != name {
			continue
		}
		data, err := os.ReadFile(s.Path)
		if err != nil {
			return "", false
		}
		return stripFrontmatter(string(data)), true
	}
	return "", false
}

// Summary renders the skill list for system prompt injection. Returns ""
// when no skills exist.
func (l *Loader) Summary() string {
	all := l.List()
	if len(all) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("## Skills\n\n")
	sb.WriteString("The following skills are available. Read a skill's file with the read_file tool before applying it.\n\n")
	for _, s := range all {
		desc := s.Description
		if desc == "" {
			desc = "(no description)"
		}
		sb.WriteString(fmt.Sprintf("- %s: %s (file: %s)\n", s.Name, desc, s.Path))
	}
	return sb.String()
}

func parseFrontmatter(content string) *frontmatter {
	block, ok := frontmatterBlock(content)
	if !ok {
		return nil
	}
	var meta frontmatter
	if err := yaml.Unmarshal([]byte(block), &meta); err != nil {
		return nil
	}
	return &meta
}

func stripFrontmatter(content string) string {
	if !strings.HasPrefix(content, "---\n") {
		return content
	}
	rest := content[len("---\n"):]
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return content
	}
	body := rest[end+len("\n---"):]
	return strings.TrimPrefix(body, "\n")
}

// frontmatterBlock returns the YAML between the leading "---" fence and the
// closing one, without the fences.
func frontmatterBlock(content string) (string, bool) {
	if !strings.HasPrefix(content, "---\n") {
		return "", false
	}
	rest := content[len("---\n"):]
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return "", false
	}
	return rest[:end+1], true
}
