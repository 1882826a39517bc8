package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/crabclaw/crabclaw/internal/agent"
	"github.com/crabclaw/crabclaw/internal/agent/providers"
)

func buildRunCmd() *cobra.Command {
	var (
		prompt     string
		promptFile string
		dryRun     bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a single prompt and print the reply",
		Example: `  crabclaw run --prompt "what changed since the last release?"
  crabclaw run --prompt-file task.md
  echo "summarize TODO.md" | crabclaw run`,
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := resolvePrompt(prompt, promptFile, cmd.InOrStdin())
			if err != nil {
				return err
			}

			workspace, err := currentWorkspace()
			if err != nil {
				return err
			}
			cfg, err := loadConfig(workspace)
			if err != nil {
				return err
			}

			if dryRun {
				fmt.Fprintf(cmd.OutOrStdout(), "model: %s\napi_base: %s\nprompt: %s\n",
					cfg.Model, cfg.APIBase, text)
				return nil
			}

			ctx := cmd.Context()
			loop, err := agent.Open(ctx, cfg, providers.FromConfig(cfg), workspace, "cli:run")
			if err != nil {
				return err
			}

			res := loop.HandleInput(ctx, text)
			if res.Err != nil {
				return res.Err
			}
			if res.ImmediateOutput != "" {
				fmt.Fprintln(cmd.OutOrStdout(), res.ImmediateOutput)
			}
			if res.AssistantOutput != "" {
				fmt.Fprintln(cmd.OutOrStdout(), res.AssistantOutput)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&prompt, "prompt", "", "Prompt text")
	cmd.Flags().StringVar(&promptFile, "prompt-file", "", "Read the prompt from a file")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Resolve config and prompt, then exit without calling the provider")
	cmd.MarkFlagsMutuallyExclusive("prompt", "prompt-file")

	return cmd
}

// resolvePrompt picks the prompt source: flag, file, then piped stdin.
func resolvePrompt(prompt, promptFile string, stdin io.Reader) (string, error) {
	switch {
	case prompt != "":
		return prompt, nil
	case promptFile != "":
		data, err := os.ReadFile(promptFile)
		if err != nil {
			return "", fmt.Errorf("read prompt file: %w", err)
		}
		if text := strings.TrimSpace(string(data)); text != "" {
			return text, nil
		}
		return "", errors.New("prompt file is empty")
	}

	if file, ok := stdin.(*os.File); ok {
		info, err := file.Stat()
		if err != nil || info.Mode()&os.ModeCharDevice != 0 {
			return "", errors.New("no prompt provided: use --prompt, --prompt-file, or pipe stdin")
		}
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	if text := strings.TrimSpace(string(data)); text != "" {
		return text, nil
	}
	return "", errors.New("no prompt provided: use --prompt, --prompt-file, or pipe stdin")
}
