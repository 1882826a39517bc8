package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/crabclaw/crabclaw/internal/agent"
	"github.com/crabclaw/crabclaw/internal/agent/providers"
	"github.com/crabclaw/crabclaw/internal/channels/telegram"
	"github.com/crabclaw/crabclaw/internal/scheduler"
)

func buildServeCmd() *cobra.Command {
	var debug bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the Telegram long-poll adapter",
		Long: `Connect to Telegram and serve one session per chat. Each chat's replies
and scheduled deliveries go through a FIFO mailbox so ordering per chat is
preserved. Shuts down gracefully on SIGINT/SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			level := slog.LevelInfo
			if debug {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
				Level: level,
			})))

			workspace, err := currentWorkspace()
			if err != nil {
				return err
			}
			cfg, err := loadConfig(workspace)
			if err != nil {
				return err
			}
			if cfg.TelegramBotToken == "" {
				return errors.New("TELEGRAM_BOT_TOKEN is required for serve")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			defer scheduler.Default().Stop()

			channel, err := telegram.New(telegram.Config{Token: cfg.TelegramBotToken},
				func(ctx context.Context, sessionID string, notify func(string)) (telegram.SessionLoop, error) {
					loop, err := agent.Open(ctx, cfg, providers.FromConfig(cfg), workspace, sessionID,
						agent.WithNotifier(notify))
					if err != nil {
						return nil, err
					}
					return sessionAdapter{loop}, nil
				})
			if err != nil {
				return err
			}
			return channel.Run(ctx)
		},
	}

	cmd.Flags().BoolVar(&debug, "debug", false, "Enable debug logging")
	return cmd
}

// sessionAdapter narrows the loop result to what the channel consumes.
type sessionAdapter struct {
	loop *agent.Loop
}

func (s sessionAdapter) HandleInput(ctx context.Context, text string) telegram.SessionResult {
	res := s.loop.HandleInput(ctx, text)
	return telegram.SessionResult{
		ImmediateOutput: res.ImmediateOutput,
		AssistantOutput: res.AssistantOutput,
		Err:             res.Err,
	}
}
