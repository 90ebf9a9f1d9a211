// Package bootstrap seeds and loads the per-workspace context files the
// agent reads at the top of every conversation.
package bootstrap

import (
	"os"
	"path/filepath"
	"strings"
)

// Workspace context file names, seeded from embedded templates and injected
// into the system prompt when present.
const (
	AgentsFile    = "AGENTS.md"
	SoulFile      = "SOUL.md"
	ToolsFile     = "TOOLS.md"
	IdentityFile  = "IDENTITY.md"
	UserFile      = "USER.md"
	HeartbeatFile = "HEARTBEAT.md"
	BootstrapFile = "BOOTSTRAP.md"
)

// ContextFile is one workspace context document injected into the system
// prompt.
type ContextFile struct {
	Path    string
	Content string
}

// contextFileOrder is the injection order: identity first, one-shot
// bootstrap instructions last so they read as the most recent directive.
var contextFileOrder = []string{
	IdentityFile,
	SoulFile,
	AgentsFile,
	UserFile,
	ToolsFile,
	HeartbeatFile,
	BootstrapFile,
}

// LoadWorkspaceFiles reads the known context files from workspaceDir,
// skipping absent ones. Oversized files are truncated rather than dropped
// so a runaway USER.md cannot evict the rest of the prompt.
func LoadWorkspaceFiles(workspaceDir string) []ContextFile {
	const maxFileBytes = 32 * 1024

	var files []ContextFile
	for _, name := range contextFileOrder {
		data, err := os.ReadFile(filepath.Join(workspaceDir, name))
		if err != nil {
			continue
		}
		content := string(data)
		if len(content) > maxFileBytes {
			content = content[:maxFileBytes] + "\n[truncated]"
		}
		files = append(files, ContextFile{Path: name, Content: content})
	}
	return files
}

// IsSubagentSession reports whether a session key belongs to a spawned
// subagent rather than a user-facing conversation.
func IsSubagentSession(sessionKey string) bool {
	return strings.Contains(sessionKey, ":subagent:")
}

// IsCronSession reports whether a session key belongs to a scheduler run.
func IsCronSession(sessionKey string) bool {
	return strings.Contains(sessionKey, ":cron:")
}
