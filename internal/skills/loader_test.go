package skills

import (
	"os"
	"path/filepath"
	"testing"
)

func writeSkill(t *testing.T, dir, name, content string) {
	t.Helper()
	skillDir := filepath.Join(dir, name)
	if err := os.MkdirAll(skillDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(skillDir, "SKILL.md"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoaderScansSkillDirectories(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, dir, "deploy", "# Deploy\n\nShip the service to production.\n")
	writeSkill(t, dir, "triage", "---\ndescription: Sort incoming reports by severity\n---\n# Triage\n")

	l := NewLoader(dir)
	all := l.All()
	if len(all) != 2 {
		t.Fatalf("expected 2 skills, got %d", len(all))
	}
	if all[0].Name != "deploy" || all[1].Name != "triage" {
		t.Fatalf("unexpected order: %q, %q", all[0].Name, all[1].Name)
	}
	if all[0].Description != "Ship the service to production." {
		t.Errorf("deploy description = %q", all[0].Description)
	}
	if all[1].Description != "Sort incoming reports by severity" {
		t.Errorf("triage description = %q", all[1].Description)
	}
}

func TestFilterSkillsAllowlistSemantics(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, dir, "a", "alpha skill\n")
	writeSkill(t, dir, "b", "beta skill\n")

	l := NewLoader(dir)

	if got := l.FilterSkills(nil); len(got) != 2 {
		t.Errorf("nil allowlist should return all, got %d", len(got))
	}
	if got := l.FilterSkills([]string{}); len(got) != 0 {
		t.Errorf("empty allowlist should return none, got %d", len(got))
	}
	got := l.FilterSkills([]string{"b"})
	if len(got) != 1 || got[0].Name != "b" {
		t.Errorf("allowlist [b] returned %v", got)
	}
}

func TestBuildSummaryRendersXML(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, dir, "research", "Find and summarize sources.\n")

	l := NewLoader(dir)
	summary := l.BuildSummary(nil)
	want := "<available_skills>\n  <skill>\n    <name>research</name>\n    <description>Find and summarize sources.</description>\n  </skill>\n</available_skills>"
	if summary != want {
		t.Errorf("summary mismatch:\n%s", summary)
	}
}

func TestMissingDirectoryYieldsEmptyCatalog(t *testing.T) {
	l := NewLoader(filepath.Join(t.TempDir(), "nope"))
	if got := l.All(); len(got) != 0 {
		t.Fatalf("expected empty, got %d", len(got))
	}
	if l.BuildSummary(nil) != "" {
		t.Error("summary of empty catalog should be empty")
	}
}
