package authstore

import (
	"path/filepath"
	"testing"

	"github.com/asteroniris-dev/asteroniris/internal/secrets"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "auth_profiles.json")
	secretStore := secrets.New(dir, true)
	s, err := Load(path, secretStore, true)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	return s, path
}

func TestUpsertAndSelectDefault(t *testing.T) {
	s, _ := newTestStore(t)
	created, err := s.UpsertProfile(AuthProfile{ID: "p1", Provider: "OpenAI", APIKey: "sk-1"}, true)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if !created {
		t.Fatalf("expected new profile to report created=true")
	}

	profile, ok := s.ActiveProfileForProvider("openai")
	if !ok {
		t.Fatalf("expected a profile to be selected")
	}
	if profile.ID != "p1" {
		t.Fatalf("expected p1 to be selected via defaults, got %q", profile.ID)
	}
}

func TestSelectionOrderFallback(t *testing.T) {
	s, _ := newTestStore(t)
	if _, err := s.UpsertProfile(AuthProfile{ID: "a", Provider: "openai", APIKey: "key-a"}, false); err != nil {
		t.Fatalf("upsert a: %v", err)
	}
	if _, err := s.UpsertProfile(AuthProfile{ID: "b", Provider: "openai", APIKey: "key-b"}, false); err != nil {
		t.Fatalf("upsert b: %v", err)
	}
	s.SetProfileOrder("openai", []string{"b", "a"})

	profile, ok := s.ActiveProfileForProvider("openai")
	if !ok || profile.ID != "b" {
		t.Fatalf("expected order to select b first, got %+v ok=%v", profile, ok)
	}
}

func TestCooldownSkipsProfile(t *testing.T) {
	s, _ := newTestStore(t)
	if _, err := s.UpsertProfile(AuthProfile{ID: "a", Provider: "openai", APIKey: "key-a"}, true); err != nil {
		t.Fatalf("upsert a: %v", err)
	}
	if _, err := s.UpsertProfile(AuthProfile{ID: "b", Provider: "openai", APIKey: "key-b"}, false); err != nil {
		t.Fatalf("upsert b: %v", err)
	}
	s.MarkProfileFailed("a", 600)

	profile, ok := s.ActiveProfileForProvider("openai")
	if !ok {
		t.Fatalf("expected fallback selection")
	}
	if profile.ID != "b" {
		t.Fatalf("expected cooling profile a to be skipped in favor of b, got %q", profile.ID)
	}
}

func TestAllCoolingStillResolves(t *testing.T) {
	s, _ := newTestStore(t)
	if _, err := s.UpsertProfile(AuthProfile{ID: "a", Provider: "openai", APIKey: "key-a"}, true); err != nil {
		t.Fatalf("upsert a: %v", err)
	}
	s.MarkProfileFailed("a", 600)

	profile, ok := s.ActiveProfileForProvider("openai")
	if !ok {
		t.Fatalf("expected the only profile to be returned even while cooling")
	}
	if profile.ID != "a" {
		t.Fatalf("got %q, want a", profile.ID)
	}
}

func TestSaveLoadRoundTripEncryptsSecrets(t *testing.T) {
	s, path := newTestStore(t)
	if _, err := s.UpsertProfile(AuthProfile{ID: "p1", Provider: "anthropic", APIKey: "sk-round-trip"}, true); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.Save(); err != nil {
		t.Fatalf("save: %v", err)
	}

	dir := filepath.Dir(path)
	reloaded, err := Load(path, secrets.New(dir, true), true)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	key := reloaded.ActiveAPIKeyForProvider("anthropic")
	if key != "sk-round-trip" {
		t.Fatalf("got %q, want sk-round-trip", key)
	}
}

func TestResolveProviderAPIKeyFallsBackToLegacyKey(t *testing.T) {
	s, _ := newTestStore(t)
	if got := s.ResolveProviderAPIKey("openai", " legacy-key "); got != "legacy-key" {
		t.Fatalf("expected legacy fallback, got %q", got)
	}
	if _, err := s.UpsertProfile(AuthProfile{ID: "p1", Provider: "openai", APIKey: "sk-profile"}, true); err != nil {
		t.Fatal(err)
	}
	if got := s.ResolveProviderAPIKey("openai", "legacy-key"); got != "sk-profile" {
		t.Fatalf("expected profile key to win, got %q", got)
	}
}

func TestResolveMemoryAPIKeyMapsCustomToOpenAI(t *testing.T) {
	s, _ := newTestStore(t)
	if _, err := s.UpsertProfile(AuthProfile{ID: "p1", Provider: "openai", APIKey: "sk-embed"}, true); err != nil {
		t.Fatal(err)
	}
	if got := s.ResolveMemoryAPIKey("custom:http://localhost:8080/v1", ""); got != "sk-embed" {
		t.Fatalf("custom:* should resolve the openai profile, got %q", got)
	}
	if got := s.ResolveMemoryAPIKey("openai", ""); got != "sk-embed" {
		t.Fatalf("openai should resolve the openai profile, got %q", got)
	}
}
