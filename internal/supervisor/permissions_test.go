package supervisor

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/asteroniris-dev/asteroniris/internal/approval"
)

func shellGrant(pattern string, scope approval.GrantScope) approval.PermissionGrant {
	return approval.PermissionGrant{Tool: "shell", Pattern: pattern, Scope: scope}
}

func TestSessionGrantWorksWithinSessionAndClearsOnRestart(t *testing.T) {
	dir := t.TempDir()
	store := LoadPermissionStore(dir)

	if err := store.AddGrant(shellGrant("cargo *", approval.GrantScopeSession), "cli:local"); err != nil {
		t.Fatalf("add session grant: %v", err)
	}
	if !store.IsGranted("shell", "cargo test") {
		t.Fatalf("expected session grant to cover the call")
	}

	restarted := LoadPermissionStore(dir)
	if restarted.IsGranted("shell", "cargo test") {
		t.Fatalf("expected session grant not to survive restart")
	}
}

func TestPatternMatchingPrefixSpace(t *testing.T) {
	if !patternMatches("cargo *", "cargo test") {
		t.Fatalf("expected match")
	}
	if patternMatches("cargo *", "python script.py") {
		t.Fatalf("expected no match")
	}
	if patternMatches("cargo *", "cargo") {
		t.Fatalf("expected no match for bare prefix without trailing word")
	}
}

func TestPatternMatchingWildcardEverything(t *testing.T) {
	if !patternMatches("*", "cargo test") || !patternMatches("*", "anything") {
		t.Fatalf("expected wildcard to match everything")
	}
}

func TestPatternMatchingExactOnly(t *testing.T) {
	if !patternMatches("cargo test", "cargo test") {
		t.Fatalf("expected exact match")
	}
	if patternMatches("cargo test", "cargo test --lib") {
		t.Fatalf("expected no match for superset string")
	}
}

func TestIsGrantedFalseWhenNoGrants(t *testing.T) {
	store := LoadPermissionStore(t.TempDir())
	if store.IsGranted("shell", "cargo test") {
		t.Fatalf("expected no grant")
	}
}

func TestPermanentGrantSerializesAndDeserializesTOML(t *testing.T) {
	dir := t.TempDir()
	store := LoadPermissionStore(dir)
	if err := store.AddGrant(shellGrant("cargo *", approval.GrantScopePermanent), "cli:local"); err != nil {
		t.Fatalf("add permanent grant: %v", err)
	}

	content, err := os.ReadFile(filepath.Join(dir, "permissions.toml"))
	if err != nil {
		t.Fatalf("read permissions.toml: %v", err)
	}
	if len(content) == 0 {
		t.Fatalf("expected non-empty permissions.toml")
	}

	restarted := LoadPermissionStore(dir)
	if !restarted.IsGranted("shell", "cargo test") {
		t.Fatalf("expected permanent grant to survive restart")
	}
}

func TestCannotGrantToolNotInEntityAllowlist(t *testing.T) {
	store := LoadPermissionStore(t.TempDir())
	store.SetEntityAllowlist("entity:1", map[string]struct{}{"file_read": {}})

	err := store.AddGrant(approval.PermissionGrant{Tool: "shell", Pattern: "cargo *", Scope: approval.GrantScopeSession}, "entity:1")
	if err == nil {
		t.Fatalf("expected grant outside allowlist to be rejected")
	}
}

func TestActiveGrantsReturnsSessionAndPermanent(t *testing.T) {
	store := LoadPermissionStore(t.TempDir())
	if err := store.AddGrant(shellGrant("cargo test", approval.GrantScopeSession), "cli:local"); err != nil {
		t.Fatalf("add session grant: %v", err)
	}
	if err := store.AddGrant(shellGrant("cargo *", approval.GrantScopePermanent), "cli:local"); err != nil {
		t.Fatalf("add permanent grant: %v", err)
	}

	grants := store.ActiveGrants()
	if len(grants) != 2 {
		t.Fatalf("got %d grants, want 2", len(grants))
	}
}
