package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Defaults applied when no other source provides a value.
const (
	DefaultModel              = "gpt-4o-mini"
	DefaultAPIBase            = "https://api.openai.com/v1"
	DefaultAnthropicAPIBase   = "https://api.anthropic.com"
	DefaultMaxContextMessages = 50
	DefaultMaxTokens          = 4096

	// AnthropicModelPrefix selects the messages-dialect provider.
	AnthropicModelPrefix = "anthropic:"

	envFileName = ".env.local"
)

// Config is the resolved runtime configuration for one session.
type Config struct {
	Profile            string `yaml:"profile"`
	APIKey             string `yaml:"api_key"`
	APIBase            string `yaml:"api_base"`
	Model              string `yaml:"model"`
	SystemPrompt       string `yaml:"system_prompt"`
	MaxContextMessages int    `yaml:"max_context_messages"`
	MaxTokens          int    `yaml:"max_tokens"`
	TelegramBotToken   string `yaml:"telegram_bot_token"`
}

// UsesAnthropicDialect reports whether the configured model selects the
// messages wire dialect.
func (c *Config) UsesAnthropicDialect() bool {
	return strings.HasPrefix(c.Model, AnthropicModelPrefix)
}

// ModelName strips the dialect prefix from the configured model.
func (c *Config) ModelName() string {
	return strings.TrimPrefix(c.Model, AnthropicModelPrefix)
}

// Overrides carries CLI-level settings, which win over every other
// source.
type Overrides struct {
	Profile      string
	APIKey       string
	APIBase      string
	Model        string
	SystemPrompt string
}

// Load resolves configuration for the workspace. Precedence per key:
// CLI override, env `<PROFILE>_<KEY>`, env `<KEY>`, `.env.local`
// `<PROFILE>_<KEY>`, `.env.local` `<KEY>`, then the default. Values are
// blank-trimmed at every level.
func Load(workspace string, overrides Overrides) (*Config, error) {
	profile := strings.TrimSpace(overrides.Profile)

	fileVars := map[string]string{}
	envPath := filepath.Join(workspace, envFileName)
	if _, err := os.Stat(envPath); err == nil {
		fileVars, err = godotenv.Read(envPath)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", envPath, err)
		}
	}

	r := resolver{profile: strings.ToUpper(profile), fileVars: fileVars}

	cfg := &Config{
		Profile:      profile,
		APIKey:       r.value(overrides.APIKey, "API_KEY", ""),
		APIBase:      r.value(overrides.APIBase, "API_BASE", ""),
		Model:        r.value(overrides.Model, "MODEL", DefaultModel),
		SystemPrompt: r.value(overrides.SystemPrompt, "SYSTEM_PROMPT", ""),

		TelegramBotToken:   r.value("", "TELEGRAM_BOT_TOKEN", ""),
		MaxContextMessages: r.intValue("MAX_CONTEXT_MESSAGES", DefaultMaxContextMessages),
		MaxTokens:          r.intValue("MAX_TOKENS", DefaultMaxTokens),
	}
	if cfg.APIBase == "" {
		if cfg.UsesAnthropicDialect() {
			cfg.APIBase = DefaultAnthropicAPIBase
		} else {
			cfg.APIBase = DefaultAPIBase
		}
	}
	return cfg, nil
}

// LoadFile merges an optional YAML config file under the resolved
// config. Resolution-chain values win over file values.
func LoadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var fromFile Config
	if err := yaml.Unmarshal(data, &fromFile); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	if cfg.APIKey == "" {
		cfg.APIKey = strings.TrimSpace(fromFile.APIKey)
	}
	if cfg.Model == DefaultModel && fromFile.Model != "" {
		cfg.Model = strings.TrimSpace(fromFile.Model)
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = strings.TrimSpace(fromFile.SystemPrompt)
	}
	if cfg.TelegramBotToken == "" {
		cfg.TelegramBotToken = strings.TrimSpace(fromFile.TelegramBotToken)
	}
	return nil
}

type resolver struct {
	profile  string
	fileVars map[string]string
}

func (r resolver) value(override, key, fallback string) string {
	if v := strings.TrimSpace(override); v != "" {
		return v
	}
	if r.profile != "" {
		if v := strings.TrimSpace(os.Getenv(r.profile + "_" + key)); v != "" {
			return v
		}
	}
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	if r.profile != "" {
		if v := strings.TrimSpace(r.fileVars[r.profile+"_"+key]); v != "" {
			return v
		}
	}
	if v := strings.TrimSpace(r.fileVars[key]); v != "" {
		return v
	}
	return fallback
}

func (r resolver) intValue(key string, fallback int) int {
	raw := r.value("", key, "")
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
