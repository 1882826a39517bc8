package providers

import (
	"github.com/crabclaw/crabclaw/internal/agent"
	"github.com/crabclaw/crabclaw/internal/config"
)

// FromConfig selects the wire dialect from the configured model: an
// "anthropic:" prefix picks the messages dialect, anything else the
// chat-completions dialect.
func FromConfig(cfg *config.Config) agent.LLMProvider {
	if cfg.UsesAnthropicDialect() {
		return NewAnthropicProvider(cfg.APIKey, cfg.APIBase)
	}
	return NewOpenAIProvider(cfg.APIKey, cfg.APIBase)
}
