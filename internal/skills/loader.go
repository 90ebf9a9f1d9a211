// Package skills loads reusable prompt skills from the workspace skills
// directory. A skill is a directory containing SKILL.md; the directory name
// names it, and SKILL.md's "description:" line (or else its first
// non-heading line) describes it; the loader exposes the
// catalog for system-prompt injection.
package skills

import (
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Skill is one loadable skill: the directory name, its human description,
// and the full SKILL.md body.
type Skill struct {
	Name        string
	Description string
	Content     string
}

// Loader scans a skills directory on demand and caches the result until
// Reload. Safe for concurrent readers.
type Loader struct {
	mu     sync.RWMutex
	dir    string
	skills []Skill
	loaded bool
}

// NewLoader creates a loader rooted at dir. The directory does not need to
// exist; a missing directory yields an empty catalog.
func NewLoader(dir string) *Loader {
	return &Loader{dir: dir}
}

// Reload drops the cache so the next read rescans the directory.
func (l *Loader) Reload() {
	l.mu.Lock()
	l.loaded = false
	l.skills = nil
	l.mu.Unlock()
}

// All returns every discovered skill, sorted by name.
func (l *Loader) All() []Skill {
	l.mu.RLock()
	if l.loaded {
		out := make([]Skill, len(l.skills))
		copy(out, l.skills)
		l.mu.RUnlock()
		return out
	}
	l.mu.RUnlock()

	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.loaded {
		l.skills = scanDir(l.dir)
		l.loaded = true
	}
	out := make([]Skill, len(l.skills))
	copy(out, l.skills)
	return out
}

// FilterSkills applies an allowlist: nil means every skill, an empty
// non-nil list means none, otherwise only the named skills.
func (l *Loader) FilterSkills(allowList []string) []Skill {
	all := l.All()
	if allowList == nil {
		return all
	}
	if len(allowList) == 0 {
		return nil
	}
	allow := make(map[string]bool, len(allowList))
	for _, n := range allowList {
		allow[n] = true
	}
	var out []Skill
	for _, s := range all {
		if allow[s.Name] {
			out = append(out, s)
		}
	}
	return out
}

// Get returns a skill by name.
func (l *Loader) Get(name string) (Skill, bool) {
	for _, s := range l.All() {
		if s.Name == name {
			return s, true
		}
	}
	return Skill{}, false
}

// BuildSummary renders the filtered catalog as the <available_skills> XML
// block injected into the system prompt.
func (l *Loader) BuildSummary(allowList []string) string {
	filtered := l.FilterSkills(allowList)
	if len(filtered) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("<available_skills>\n")
	for _, s := range filtered {
		b.WriteString("  <skill>\n")
		b.WriteString("    <name>" + s.Name + "</name>\n")
		b.WriteString("    <description>" + s.Description + "</description>\n")
		b.WriteString("  </skill>\n")
	}
	b.WriteString("</available_skills>")
	return b.String()
}

func scanDir(dir string) []Skill {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("skills: cannot read skills directory", "dir", dir, "error", err)
		}
		return nil
	}

	var skills []Skill
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		path := filepath.Join(dir, e.Name(), "SKILL.md")
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		content := string(data)
		skills = append(skills, Skill{
			Name:        e.Name(),
			Description: extractDescription(content),
			Content:     content,
		})
	}
	sort.Slice(skills, func(i, j int) bool { return skills[i].Name < skills[j].Name })
	return skills
}

// extractDescription returns the first non-heading, non-empty line. A
// "description:" frontmatter line wins when present.
func extractDescription(content string) string {
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if v, ok := strings.CutPrefix(trimmed, "description:"); ok {
			return strings.TrimSpace(v)
		}
	}
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") || strings.HasPrefix(trimmed, "---") {
			continue
		}
		if len(trimmed) > 200 {
			trimmed = trimmed[:200]
		}
		return trimmed
	}
	return ""
}
