package skills

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeSkill(t *testing.T, dir, folder, content string) {
	t.Helper()
	skillDir := filepath.Join(dir, folder)
	if err := os.MkdirAll(skillDir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(skillDir, "SKILL.md"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestListParsesFrontmatter(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, dir, "git-workflow", `---
name: git-workflow
description: How to prepare commits in this repository
---
Always run the tests before committing.
`)
	writeSkill(t, dir, "bare", "No frontmatter at all.\n")

	loader := NewLoader(dir)
	all := loader.List()
	if len(all) != 2 {
		t.Fatalf("Expected 2 skills, got %d", len(all))
	}
	// Sorted by name: "bare" < "git-workflow".
	if all[0].Name != "bare" {
		t.Errorf("Expected first skill 'bare', got %q", all[0].Name)
	}
	if all[1].Name != "git-workflow" {
		t.Errorf("Expected second skill 'git-workflow', got %q", all[1].Name)
	}
	if all[1].Description != "How to prepare commits in this repository" {
		t.Errorf("Frontmatter description not parsed: %q", all[1].Description)
	}
}

func TestContentStripsFrontmatter(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, dir, "deploy", `---
name: deploy
description: Deployment checklist
---
Step one: build.
Step two: ship.
`)

	loader := NewLoader(dir)
	content, ok := loader.Content("deploy")
	if !ok {
		t.Fatal("Expected skill 'deploy' to be found")
	}
	if strings.Contains(content, "description:") {
		t.Errorf("Frontmatter leaked into content: %q", content)
	}
	if !strings.HasPrefix(content, "Step one: build.") {
		t.Errorf("Unexpected content start: %q", content)
	}
}

func TestSummary(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, dir, "review", `---
name: review
description: Code review guidelines
---
Be kind.
`)

	loader := NewLoader(dir)
	summary := loader.Summary()
	if !strings.Contains(summary, "review: Code review guidelines") {
		t.Errorf("Summary missing skill line: %q", summary)
	}
	if !strings.Contains(summary, "read_file") {
		t.Errorf("Summary should point at the read_file tool: %q", summary)
	}
}

func TestSummaryEmptyDir(t *testing.T) {
	loader := NewLoader(filepath.Join(t.TempDir(), "missing"))
	if summary := loader.Summary(); summary != "" {
		t.Errorf("Expected empty summary for missing dir, got %q", summary)
	}
}

func TestReloadPicksUpNewSkills(t *testing.T) {
	dir := t.TempDir()
	loader := NewLoader(dir)
	if got := len(loader.List()); got != 0 {
		t.Fatalf("Expected no skills initially, got %d", got)
	}

	writeSkill(t, dir, "late", `---
name: late
description: Added after the first scan
---
Body.
`)
	// The cache holds until an explicit reload.
	if got := len(loader.List()); got != 0 {
		t.Fatalf("Expected cached empty list, got %d", got)
	}
	loader.Reload()
	if got := len(loader.List()); got != 1 {
		t.Errorf("Expected 1 skill after reload, got %d", got)
	}
}
