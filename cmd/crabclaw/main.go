// Package main provides the crabclaw CLI.
//
// Crabclaw is a multi-channel conversational agent runtime. It records every
// session on an append-only tape, routes comma-commands locally, and drives
// streamed tool-calling turns against OpenAI- or Anthropic-dialect providers.
//
// # Basic Usage
//
// One-shot prompt:
//
//	crabclaw run --prompt "summarize TODO.md"
//
// Interactive session:
//
//	crabclaw interactive
//
// Telegram long-poll adapter:
//
//	crabclaw serve
//
// # Environment Variables
//
// Configuration is resolved per key as CLI flag, then <PROFILE>_<KEY> and
// <KEY> environment variables, then the same keys in .env.local, then
// defaults. Keys: API_KEY, API_BASE, MODEL, SYSTEM_PROMPT,
// TELEGRAM_BOT_TOKEN, MAX_CONTEXT_MESSAGES, MAX_TOKENS.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/crabclaw/crabclaw/internal/config"
)

// Build information, populated by ldflags.
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// Common flags shared by every subcommand.
var (
	profileFlag      string
	apiKeyFlag       string
	apiBaseFlag      string
	modelFlag        string
	systemPromptFlag string
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "crabclaw",
		Short: "Crabclaw - conversational agent runtime",
		Long: `Crabclaw mediates between chat channels, LLM providers and a sandboxed
set of local capabilities (shell, filesystem, web fetch, scheduled jobs).

Input starting with a comma runs as a command before the model sees it;
everything else becomes a streamed tool-calling model turn.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&profileFlag, "profile", "", "Config profile; keys resolve as <PROFILE>_<KEY> first")
	rootCmd.PersistentFlags().StringVar(&apiKeyFlag, "api-key", "", "Provider API key")
	rootCmd.PersistentFlags().StringVar(&apiBaseFlag, "api-base", "", "Provider API base URL")
	rootCmd.PersistentFlags().StringVar(&modelFlag, "model", "", "Model name; prefix anthropic: selects the messages dialect")
	rootCmd.PersistentFlags().StringVar(&systemPromptFlag, "system-prompt", "", "System prompt override")

	rootCmd.AddCommand(
		buildRunCmd(),
		buildInteractiveCmd(),
		buildServeCmd(),
		buildAuthCmd(),
		buildVersionCmd(),
	)
	return rootCmd
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "crabclaw %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func loadConfig(workspace string) (*config.Config, error) {
	return config.Load(workspace, config.Overrides{
		Profile:      profileFlag,
		APIKey:       apiKeyFlag,
		APIBase:      apiBaseFlag,
		Model:        modelFlag,
		SystemPrompt: systemPromptFlag,
	})
}

func currentWorkspace() (string, error) {
	workspace, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("resolve workspace: %w", err)
	}
	return workspace, nil
}
