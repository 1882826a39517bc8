package agent

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/crabclaw/crabclaw/internal/tape"
	"github.com/crabclaw/crabclaw/pkg/models"
)

// SystemPromptFile is the workspace-local system prompt override.
const SystemPromptFile = ".agent/system-prompt.md"

const truncationNotice = "Older messages in this session have been truncated to fit the context window."

const defaultSystemPrompt = `You are a capable assistant running inside a workspace.

You can run tools when they are offered; mention a tool as $name to have
its full definition included on the next turn. You may also emit
comma-commands on their own line (for example ,tape.info or ,ls) and the
runtime will execute them and show you the result.

Keep replies concise. Prefer acting over describing what you would do.`

// BuildSystemPrompt resolves the system prompt: explicit override,
// then the workspace file, then the compiled default.
func BuildSystemPrompt(override, workspace string) string {
	if s := strings.TrimSpace(override); s != "" {
		return s
	}
	data, err := os.ReadFile(filepath.Join(workspace, SystemPromptFile))
	if err == nil {
		if s := strings.TrimSpace(string(data)); s != "" {
			return s
		}
	}
	return defaultSystemPrompt
}

// BuildMessages assembles the provider message list: the system prompt
// first, then every non-empty chat message since the last anchor,
// windowed to maxContextMessages with a truncation notice when the
// history is longer.
func BuildMessages(store *tape.Store, systemPrompt string, maxContextMessages int) []models.Message {
	var out []models.Message
	if s := strings.TrimSpace(systemPrompt); s != "" {
		out = append(out, models.Message{Role: models.RoleSystem, Content: s})
	}

	var history []models.Message
	for _, entry := range store.EntriesSinceLastAnchor() {
		msg, ok := entry.Message()
		if !ok || msg.Content == "" {
			continue
		}
		history = append(history, msg)
	}

	if maxContextMessages > 0 && len(history) > maxContextMessages {
		out = append(out, models.Message{Role: models.RoleSystem, Content: truncationNotice})
		history = history[len(history)-maxContextMessages:]
	}
	return append(out, history...)
}
