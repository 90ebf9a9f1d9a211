// Package authstore implements the provider API-key/auth-profile half of
// C2: a JSON file of auth profiles per provider, with default/order/
// last-good selection, cooldown tracking on failure, and transparent
// at-rest encryption of secrets via internal/secrets.
package authstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/asteroniris-dev/asteroniris/internal/secrets"
)

// ProfilesVersion is written to new stores and bumped only on a breaking
// schema change.
const ProfilesVersion = 1

var validProfileID = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// AuthProfile is one stored credential for a provider.
type AuthProfile struct {
	ID           string `json:"id"`
	Provider     string `json:"provider"`
	Label        string `json:"label,omitempty"`
	APIKey       string `json:"api_key,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	AuthScheme   string `json:"auth_scheme,omitempty"`
	OAuthSource  string `json:"oauth_source,omitempty"`
	Disabled     bool   `json:"disabled"`
}

// ProfileUsageStats tracks per-profile selection history used to break
// ties and to implement cooldown-after-failure.
type ProfileUsageStats struct {
	LastUsedAt    int64 `json:"last_used_at,omitempty"`
	CooldownUntil int64 `json:"cooldown_until,omitempty"`
	ErrorCount    uint32 `json:"error_count,omitempty"`
}

// Store is the on-disk auth-profile document: one JSON file per runtime,
// encrypted at rest via internal/secrets when enabled.
type Store struct {
	Version    int                          `json:"version"`
	Defaults   map[string]string            `json:"defaults"`
	Order      map[string][]string          `json:"order"`
	LastGood   map[string]string            `json:"last_good"`
	UsageStats map[string]*ProfileUsageStats `json:"usage_stats"`
	Profiles   []AuthProfile                `json:"profiles"`

	path    string
	secrets *secrets.Store
	encrypt bool
}

// New returns an empty, in-memory store not yet bound to a file.
func New() *Store {
	return &Store{
		Version:    ProfilesVersion,
		Defaults:   map[string]string{},
		Order:      map[string][]string{},
		LastGood:   map[string]string{},
		UsageStats: map[string]*ProfileUsageStats{},
	}
}

// CanonicalProviderName lowercases and trims a provider name so
// "OpenAI", " openai ", and "openai" all key the same map entries.
func CanonicalProviderName(provider string) string {
	return strings.ToLower(strings.TrimSpace(provider))
}

func isValidProfileID(id string) bool {
	return id != "" && validProfileID.MatchString(id)
}

func unixNow() int64 {
	return time.Now().Unix()
}

func (s *Store) providerProfileIndexes(provider string) []int {
	canonical := CanonicalProviderName(provider)
	var out []int
	for i, p := range s.Profiles {
		if !p.Disabled && CanonicalProviderName(p.Provider) == canonical {
			out = append(out, i)
		}
	}
	return out
}

func cooldownActive(stats *ProfileUsageStats, nowTs int64) bool {
	return stats != nil && stats.CooldownUntil > 0 && stats.CooldownUntil > nowTs
}

// pickProfileIndex runs the selection algorithm: prefer defaults[provider],
// then the first non-cooling entry in order[provider], then
// last_good[provider], then the least-recently-used candidate. When
// ignoreCooldown is true every cooldown check is skipped, which is used as
// a fallback pass so a provider with every profile cooling still makes
// progress rather than returning "no profile available".
func (s *Store) pickProfileIndex(provider string, ignoreCooldown bool) (int, bool) {
	canonical := CanonicalProviderName(provider)
	nowTs := unixNow()
	candidates := s.providerProfileIndexes(canonical)
	if len(candidates) == 0 {
		return 0, false
	}

	isCandidate := func(profileID string) (int, bool) {
		for _, idx := range candidates {
			p := s.Profiles[idx]
			if p.ID != profileID {
				continue
			}
			if ignoreCooldown {
				return idx, true
			}
			if !cooldownActive(s.UsageStats[profileID], nowTs) {
				return idx, true
			}
		}
		return 0, false
	}

	if defaultID, ok := s.Defaults[canonical]; ok {
		if idx, found := isCandidate(defaultID); found {
			return idx, true
		}
	}
	if order, ok := s.Order[canonical]; ok {
		for _, profileID := range order {
			if idx, found := isCandidate(profileID); found {
				return idx, true
			}
		}
	}
	if lastGood, ok := s.LastGood[canonical]; ok {
		if idx, found := isCandidate(lastGood); found {
			return idx, true
		}
	}

	best := -1
	var bestLastUsed int64 = -1
	for _, idx := range candidates {
		profileID := s.Profiles[idx].ID
		if !ignoreCooldown && cooldownActive(s.UsageStats[profileID], nowTs) {
			continue
		}
		lastUsed := int64(0)
		if st, ok := s.UsageStats[profileID]; ok {
			lastUsed = st.LastUsedAt
		}
		if best == -1 || lastUsed < bestLastUsed {
			best = idx
			bestLastUsed = lastUsed
		}
	}
	if best == -1 {
		return 0, false
	}
	return best, true
}

// ActiveProfileForProvider returns the selected profile for provider,
// trying the cooldown-respecting pass first and falling back to ignoring
// cooldowns entirely so a provider with every profile cooling still
// resolves to something rather than nothing.
func (s *Store) ActiveProfileForProvider(provider string) (*AuthProfile, bool) {
	if idx, ok := s.pickProfileIndex(provider, false); ok {
		return &s.Profiles[idx], true
	}
	if idx, ok := s.pickProfileIndex(provider, true); ok {
		return &s.Profiles[idx], true
	}
	return nil, false
}

// ActiveAPIKeyForProvider returns the trimmed api_key of the active
// profile for provider, or "" if none is selected or it has no key.
func (s *Store) ActiveAPIKeyForProvider(provider string) string {
	profile, ok := s.ActiveProfileForProvider(provider)
	if !ok {
		return ""
	}
	return strings.TrimSpace(profile.APIKey)
}

// ResolveProviderAPIKey returns the active profile's key for provider,
// falling back to the legacy flat config key when no profile serves it.
func (s *Store) ResolveProviderAPIKey(provider, legacyConfigKey string) string {
	if key := s.ActiveAPIKeyForProvider(provider); key != "" {
		return key
	}
	return strings.TrimSpace(legacyConfigKey)
}

// ResolveMemoryAPIKey resolves the embedding provider's key for the memory
// store: "openai" and any "custom:*" provider both look up the openai
// profile, since custom endpoints are OpenAI-compatible.
func (s *Store) ResolveMemoryAPIKey(embeddingProvider, legacyConfigKey string) string {
	provider := CanonicalProviderName(embeddingProvider)
	if provider == "openai" || strings.HasPrefix(embeddingProvider, "custom:") {
		return s.ResolveProviderAPIKey("openai", legacyConfigKey)
	}
	return s.ResolveProviderAPIKey(provider, legacyConfigKey)
}

// MarkProfileUsed records a successful call: it becomes last_good for its
// provider and its cooldown/error state is cleared.
func (s *Store) MarkProfileUsed(provider, profileID string) {
	canonical := CanonicalProviderName(provider)
	s.LastGood[canonical] = profileID
	st := s.usageStatsFor(profileID)
	st.LastUsedAt = unixNow()
	st.CooldownUntil = 0
	st.ErrorCount = 0
}

// MarkProfileFailed records a failed call and, if cooldownSecs > 0, puts
// the profile into cooldown until now+cooldownSecs.
func (s *Store) MarkProfileFailed(profileID string, cooldownSecs int64) {
	st := s.usageStatsFor(profileID)
	st.ErrorCount++
	if cooldownSecs > 0 {
		st.CooldownUntil = unixNow() + cooldownSecs
	}
}

func (s *Store) usageStatsFor(profileID string) *ProfileUsageStats {
	st, ok := s.UsageStats[profileID]
	if !ok {
		st = &ProfileUsageStats{}
		s.UsageStats[profileID] = st
	}
	return st
}

// SetProfileOrder replaces the preference order for provider, keeping
// only known profile ids for that provider and appending any the caller
// omitted so no profile becomes permanently unreachable by the order path.
func (s *Store) SetProfileOrder(provider string, orderedIDs []string) {
	canonical := CanonicalProviderName(provider)
	belongsTo := func(id string) bool {
		for _, p := range s.Profiles {
			if p.ID == id && CanonicalProviderName(p.Provider) == canonical {
				return true
			}
		}
		return false
	}

	seen := map[string]bool{}
	var filtered []string
	for _, id := range orderedIDs {
		if belongsTo(id) && !seen[id] {
			filtered = append(filtered, id)
			seen[id] = true
		}
	}
	for _, p := range s.Profiles {
		if CanonicalProviderName(p.Provider) != canonical {
			continue
		}
		if !seen[p.ID] {
			filtered = append(filtered, p.ID)
			seen[p.ID] = true
		}
	}
	s.Order[canonical] = filtered
}

// UpsertProfile validates and inserts or updates profile, optionally
// making it the default for its provider. Returns true when a new profile
// was created (false for an in-place update of an existing id).
func (s *Store) UpsertProfile(profile AuthProfile, setDefault bool) (bool, error) {
	id := strings.TrimSpace(profile.ID)
	if id == "" {
		return false, fmt.Errorf("profile id cannot be empty")
	}
	if !isValidProfileID(id) {
		return false, fmt.Errorf("invalid profile id %q: use letters, numbers, '-', '_', or '.'", id)
	}
	canonicalProvider := CanonicalProviderName(profile.Provider)
	if canonicalProvider == "" {
		return false, fmt.Errorf("provider cannot be empty")
	}

	label := strings.TrimSpace(profile.Label)
	apiKey := strings.TrimSpace(profile.APIKey)
	refreshToken := strings.TrimSpace(profile.RefreshToken)
	authScheme := strings.ToLower(strings.TrimSpace(profile.AuthScheme))
	oauthSource := strings.ToLower(strings.TrimSpace(profile.OAuthSource))

	for i := range s.Profiles {
		existing := &s.Profiles[i]
		if existing.ID != id {
			continue
		}
		if CanonicalProviderName(existing.Provider) != canonicalProvider {
			return false, fmt.Errorf("profile id %q already belongs to provider %q", id, existing.Provider)
		}
		existing.Provider = canonicalProvider
		existing.Label = label
		existing.APIKey = apiKey
		existing.RefreshToken = refreshToken
		existing.AuthScheme = authScheme
		existing.OAuthSource = oauthSource
		existing.Disabled = false
		if setDefault {
			s.Defaults[canonicalProvider] = id
		}
		return false, nil
	}

	s.Profiles = append(s.Profiles, AuthProfile{
		ID:           id,
		Provider:     canonicalProvider,
		Label:        label,
		APIKey:       apiKey,
		RefreshToken: refreshToken,
		AuthScheme:   authScheme,
		OAuthSource:  oauthSource,
	})
	s.Order[canonicalProvider] = append(s.Order[canonicalProvider], id)
	s.usageStatsFor(id)
	if setDefault {
		s.Defaults[canonicalProvider] = id
		s.LastGood[canonicalProvider] = id
	}
	return true, nil
}

// normalizeMetadata prunes defaults/last_good/usage_stats/order entries
// that no longer reference an existing profile, and ensures every
// provider with at least one profile has an order entry. Returns whether
// anything changed (callers use this to decide whether to persist).
func (s *Store) normalizeMetadata() bool {
	changed := false
	providerIDs := map[string][]string{}
	for _, p := range s.Profiles {
		c := CanonicalProviderName(p.Provider)
		providerIDs[c] = append(providerIDs[c], p.ID)
	}
	contains := func(ids []string, id string) bool {
		for _, v := range ids {
			if v == id {
				return true
			}
		}
		return false
	}

	for provider, id := range s.Defaults {
		if ids, ok := providerIDs[provider]; !ok || !contains(ids, id) {
			delete(s.Defaults, provider)
			changed = true
		}
	}
	for provider, id := range s.LastGood {
		if ids, ok := providerIDs[provider]; !ok || !contains(ids, id) {
			delete(s.LastGood, provider)
			changed = true
		}
	}
	for profileID := range s.UsageStats {
		found := false
		for _, p := range s.Profiles {
			if p.ID == profileID {
				found = true
				break
			}
		}
		if !found {
			delete(s.UsageStats, profileID)
			changed = true
		}
	}
	for provider, orderedIDs := range s.Order {
		providerProfileIDs, ok := providerIDs[provider]
		if !ok {
			delete(s.Order, provider)
			changed = true
			continue
		}
		var deduped []string
		for _, id := range orderedIDs {
			if contains(providerProfileIDs, id) && !contains(deduped, id) {
				deduped = append(deduped, id)
			}
		}
		for _, id := range providerProfileIDs {
			if !contains(deduped, id) {
				deduped = append(deduped, id)
			}
		}
		if !stringsEqual(orderedIDs, deduped) {
			s.Order[provider] = deduped
			changed = true
		}
	}

	providers := make([]string, 0, len(providerIDs))
	for provider := range providerIDs {
		providers = append(providers, provider)
	}
	sort.Strings(providers)
	for _, provider := range providers {
		if _, ok := s.Order[provider]; !ok {
			ids := make([]string, len(providerIDs[provider]))
			copy(ids, providerIDs[provider])
			s.Order[provider] = ids
			changed = true
		}
	}
	return changed
}

func stringsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// MigrateLegacyConfigAPIKey seeds a profile from a bare config.api_key /
// config.default_provider pair when the provider has no active profile
// yet. Returns true if a profile was created.
func (s *Store) MigrateLegacyConfigAPIKey(provider, legacyAPIKey string) bool {
	legacyAPIKey = strings.TrimSpace(legacyAPIKey)
	if legacyAPIKey == "" {
		return false
	}
	canonical := CanonicalProviderName(provider)
	if _, ok := s.ActiveProfileForProvider(canonical); ok {
		return false
	}

	profileID := canonical + "-legacy-default"
	for s.hasProfileID(profileID) {
		profileID += "x"
	}
	s.Profiles = append(s.Profiles, AuthProfile{
		ID:         profileID,
		Provider:   canonical,
		Label:      "Migrated from config.api_key",
		APIKey:     legacyAPIKey,
		AuthScheme: "api_key",
	})
	s.Defaults[canonical] = profileID
	return true
}

func (s *Store) hasProfileID(id string) bool {
	for _, p := range s.Profiles {
		if p.ID == id {
			return true
		}
	}
	return false
}

// Load reads the auth profile store from path, decrypting secrets with
// secretStore when encrypt is true. A missing file returns a fresh, empty
// store rather than an error. Decryption failures for an individual
// profile disable that profile (api_key) or clear the refresh_token
// rather than failing the whole load, matching the "degrade one profile,
// not the whole runtime" posture the rest of this store takes.
func Load(path string, secretStore *secrets.Store, encrypt bool) (*Store, error) {
	s := New()
	s.path = path
	s.secrets = secretStore
	s.encrypt = encrypt

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		s.normalizeMetadata()
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("authstore: read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("authstore: parse %s: %w", path, err)
	}
	if s.Defaults == nil {
		s.Defaults = map[string]string{}
	}
	if s.Order == nil {
		s.Order = map[string][]string{}
	}
	if s.LastGood == nil {
		s.LastGood = map[string]string{}
	}
	if s.UsageStats == nil {
		s.UsageStats = map[string]*ProfileUsageStats{}
	}

	needsPersist := false
	for i := range s.Profiles {
		p := &s.Profiles[i]
		if p.APIKey != "" {
			plain, reEncrypted, migrated, derr := secretStore.DecryptAndMigrate(p.APIKey)
			if derr != nil {
				p.APIKey = ""
				p.Disabled = true
				needsPersist = true
			} else {
				p.APIKey = plain
				if migrated {
					_ = reEncrypted // persisted form recomputed on Save
					needsPersist = true
				}
			}
		}
		if p.RefreshToken != "" {
			plain, _, migrated, derr := secretStore.DecryptAndMigrate(p.RefreshToken)
			if derr != nil {
				p.RefreshToken = ""
				needsPersist = true
			} else {
				p.RefreshToken = plain
				if migrated {
					needsPersist = true
				}
			}
		}
	}

	needsPersist = s.normalizeMetadata() || needsPersist
	if needsPersist {
		if err := s.Save(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Save writes the store back to its bound path, encrypting secrets first
// when enabled, as pretty-printed JSON at 0600.
func (s *Store) Save() error {
	if s.path == "" {
		return fmt.Errorf("authstore: store is not bound to a file")
	}

	persisted := *s
	persisted.Profiles = make([]AuthProfile, len(s.Profiles))
	copy(persisted.Profiles, s.Profiles)

	if s.encrypt && s.secrets != nil {
		for i := range persisted.Profiles {
			p := &persisted.Profiles[i]
			if p.APIKey != "" {
				enc, err := s.secrets.Encrypt(p.APIKey)
				if err != nil {
					return fmt.Errorf("authstore: encrypt api_key for %q: %w", p.ID, err)
				}
				p.APIKey = enc
			}
			if p.RefreshToken != "" {
				enc, err := s.secrets.Encrypt(p.RefreshToken)
				if err != nil {
					return fmt.Errorf("authstore: encrypt refresh_token for %q: %w", p.ID, err)
				}
				p.RefreshToken = enc
			}
		}
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("authstore: create dir %s: %w", dir, err)
	}
	out, err := json.MarshalIndent(&persisted, "", "  ")
	if err != nil {
		return fmt.Errorf("authstore: marshal: %w", err)
	}
	if err := os.WriteFile(s.path, out, 0o600); err != nil {
		return fmt.Errorf("authstore: write %s: %w", s.path, err)
	}
	return nil
}
