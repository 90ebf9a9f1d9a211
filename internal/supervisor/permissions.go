// Package supervisor owns the long-lived process-level state a channel
// runtime needs beyond a single tool call: standing permission grants (C8)
// and the periodic cortex bulletin each session's prompt is built around.
package supervisor

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/asteroniris-dev/asteroniris/internal/approval"
)

type storedGrant struct {
	Tool      string              `toml:"tool"`
	Pattern   string              `toml:"pattern"`
	Scope     approval.GrantScope `toml:"scope"`
	GrantedAt string              `toml:"granted_at"`
	GrantedBy string              `toml:"granted_by"`
}

type permissionFile struct {
	Grants []storedGrant `toml:"grants"`
}

// PermissionStore tracks tool-call approvals: in-memory session grants,
// 0600-persisted permanent grants, and an optional per-entity tool
// allowlist that gates which tools an entity may ever grant itself.
type PermissionStore struct {
	mu               sync.Mutex
	sessionGrants    []approval.PermissionGrant
	permanentGrants  []approval.PermissionGrant
	permanentRecords []storedGrant
	entityAllowlists map[string]map[string]struct{}
	storePath        string
}

// LoadPermissionStore reads workspaceDir/permissions.toml, creating it (with
// an empty grant list) if absent. A corrupt file is treated as empty rather
// than failing the caller — the same recover-rather-than-abort posture the
// config loader takes on a bad file.
func LoadPermissionStore(workspaceDir string) *PermissionStore {
	storePath := filepath.Join(workspaceDir, "permissions.toml")
	store := &PermissionStore{
		entityAllowlists: make(map[string]map[string]struct{}),
		storePath:        storePath,
	}

	data, err := os.ReadFile(storePath)
	switch {
	case err == nil:
		if strings.TrimSpace(string(data)) != "" {
			var file permissionFile
			if uerr := toml.Unmarshal(data, &file); uerr != nil {
				store.permanentRecords = nil
			} else {
				store.permanentRecords = file.Grants
			}
		}
	case os.IsNotExist(err):
		if perr := persistPermissionFile(storePath, permissionFile{}); perr != nil {
			fmt.Fprintf(os.Stderr, "supervisor: failed to initialize permissions.toml at %s: %v\n", storePath, perr)
		}
	default:
		fmt.Fprintf(os.Stderr, "supervisor: failed to read permissions.toml at %s: %v\n", storePath, err)
	}

	for _, record := range store.permanentRecords {
		store.permanentGrants = append(store.permanentGrants, approval.PermissionGrant{
			Tool: record.Tool, Pattern: record.Pattern, Scope: record.Scope,
		})
	}
	return store
}

// SetEntityAllowlist restricts the tools entityID is allowed to grant
// itself. Passing a nil allowlist removes the restriction entirely.
func (s *PermissionStore) SetEntityAllowlist(entityID string, allowlist map[string]struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if allowlist == nil {
		delete(s.entityAllowlists, entityID)
		return
	}
	s.entityAllowlists[entityID] = allowlist
}

// AddGrant records a new grant, persisting permanent ones to disk.
func (s *PermissionStore) AddGrant(grant approval.PermissionGrant, entityID string) error {
	if strings.TrimSpace(grant.Tool) == "" {
		return fmt.Errorf("grant tool must not be empty")
	}
	if strings.TrimSpace(grant.Pattern) == "" {
		return fmt.Errorf("grant pattern must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if allowed, ok := s.entityAllowlists[entityID]; ok {
		if _, ok := allowed[grant.Tool]; !ok {
			return fmt.Errorf("cannot grant tool '%s' for entity '%s': tool not in allowlist", grant.Tool, entityID)
		}
	}

	switch grant.Scope {
	case approval.GrantScopeSession:
		s.sessionGrants = append(s.sessionGrants, grant)
		return nil
	case approval.GrantScopePermanent:
		record := storedGrant{
			Tool: grant.Tool, Pattern: grant.Pattern, Scope: approval.GrantScopePermanent,
			GrantedAt: time.Now().UTC().Format(time.RFC3339), GrantedBy: entityID,
		}
		nextRecords := append(append([]storedGrant{}, s.permanentRecords...), record)
		if err := persistPermissionFile(s.storePath, permissionFile{Grants: nextRecords}); err != nil {
			return err
		}
		s.permanentRecords = nextRecords
		s.permanentGrants = append(s.permanentGrants, grant)
		return nil
	default:
		return fmt.Errorf("unknown grant scope %q", grant.Scope)
	}
}

// IsGranted reports whether an existing session or permanent grant covers
// this tool call.
func (s *PermissionStore) IsGranted(toolName, argsSummary string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, grant := range s.sessionGrants {
		if grant.Tool == toolName && patternMatches(grant.Pattern, argsSummary) {
			return true
		}
	}
	for _, grant := range s.permanentGrants {
		if grant.Tool == toolName && patternMatches(grant.Pattern, argsSummary) {
			return true
		}
	}
	return false
}

// ActiveGrants returns every live grant (session first, then permanent).
func (s *PermissionStore) ActiveGrants() []approval.PermissionGrant {
	s.mu.Lock()
	defer s.mu.Unlock()
	grants := make([]approval.PermissionGrant, 0, len(s.sessionGrants)+len(s.permanentGrants))
	grants = append(grants, s.sessionGrants...)
	grants = append(grants, s.permanentGrants...)
	return grants
}

// patternMatches implements the three grant-pattern shapes: "*" matches
// anything, "prefix *" matches a whitespace-delimited word prefix, "prefix*"
// matches a bare string prefix, anything else must match exactly.
func patternMatches(pattern, value string) bool {
	if pattern == "*" {
		return true
	}
	if prefix, ok := strings.CutSuffix(pattern, " *"); ok {
		return strings.HasPrefix(value, prefix) && len(value) > len(prefix) && value[len(prefix)] == ' '
	}
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(value, prefix)
	}
	return pattern == value
}

func persistPermissionFile(path string, data permissionFile) error {
	content, err := toml.Marshal(data)
	if err != nil {
		return fmt.Errorf("serialize permissions: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create permissions parent directory: %w", err)
	}
	if err := os.WriteFile(path, content, 0o600); err != nil {
		return fmt.Errorf("write permissions file %q: %w", path, err)
	}
	return os.Chmod(path, 0o600)
}
