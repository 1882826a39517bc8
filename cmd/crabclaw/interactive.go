package main

import (
	"bufio"
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/crabclaw/crabclaw/internal/agent"
	"github.com/crabclaw/crabclaw/internal/agent/providers"
)

func buildInteractiveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "interactive",
		Short: "Start a terminal REPL session",
		Long: `Read lines from the terminal and route each one through the session:
comma-commands answer immediately, everything else streams a model turn.
,quit ends the session.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace, err := currentWorkspace()
			if err != nil {
				return err
			}
			cfg, err := loadConfig(workspace)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			// The token callback also fires for scheduled agent turns,
			// which run on the scheduler goroutine.
			var (
				streamedMu sync.Mutex
				streamed   strings.Builder
			)
			loop, err := agent.Open(ctx, cfg, providers.FromConfig(cfg), workspace, "cli:interactive",
				agent.WithTokenCallback(func(fragment string) {
					streamedMu.Lock()
					streamed.WriteString(fragment)
					streamedMu.Unlock()
					fmt.Fprint(out, fragment)
				}),
				agent.WithNotifier(func(message string) {
					fmt.Fprintf(out, "\n[scheduled] %s\n> ", message)
				}))
			if err != nil {
				return err
			}

			fmt.Fprintf(out, "crabclaw %s (model %s). ,help lists commands, ,quit exits.\n", version, cfg.Model)

			scanner := bufio.NewScanner(cmd.InOrStdin())
			scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
			for {
				fmt.Fprint(out, "> ")
				if !scanner.Scan() {
					fmt.Fprintln(out)
					return scanner.Err()
				}

				streamedMu.Lock()
				streamed.Reset()
				streamedMu.Unlock()
				res := loop.HandleInput(ctx, scanner.Text())
				streamedMu.Lock()
				turnStreamed := streamed.String()
				streamedMu.Unlock()
				if res.Err != nil {
					fmt.Fprintf(out, "Error: %v\n", res.Err)
					continue
				}
				if res.ImmediateOutput != "" {
					fmt.Fprintln(out, res.ImmediateOutput)
				}
				if turnStreamed != "" {
					fmt.Fprintln(out)
				}
				// Streaming already printed the raw turn; only show the
				// routed text when command dispatch changed it.
				if res.AssistantOutput != "" && res.AssistantOutput != turnStreamed {
					fmt.Fprintln(out, res.AssistantOutput)
				}
				if res.ExitRequested {
					return nil
				}
			}
		},
	}
	return cmd
}
