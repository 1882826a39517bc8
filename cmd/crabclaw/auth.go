package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const envFileName = ".env.local"

func buildAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage the provider API key",
		Long: `Store, clear or inspect the provider API key in the workspace .env.local
file. With --profile the key is written as <PROFILE>_API_KEY so multiple
profiles can coexist in one file.`,
	}
	cmd.AddCommand(buildAuthLoginCmd(), buildAuthLogoutCmd(), buildAuthStatusCmd())
	return cmd
}

func buildAuthLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Store an API key in .env.local",
		RunE: func(cmd *cobra.Command, args []string) error {
			key := strings.TrimSpace(apiKeyFlag)
			if key == "" {
				fmt.Fprint(cmd.OutOrStdout(), "API key: ")
				reader := bufio.NewReader(cmd.InOrStdin())
				line, _ := reader.ReadString('\n')
				key = strings.TrimSpace(line)
			}
			if key == "" {
				return errors.New("no API key provided")
			}

			path, vars, err := readEnvFile()
			if err != nil {
				return err
			}
			vars[envKeyName()] = key
			if err := godotenv.Write(vars, path); err != nil {
				return fmt.Errorf("write %s: %w", path, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stored %s in %s\n", envKeyName(), path)
			return nil
		},
	}
}

func buildAuthLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the stored API key",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, vars, err := readEnvFile()
			if err != nil {
				return err
			}
			if _, ok := vars[envKeyName()]; !ok {
				fmt.Fprintf(cmd.OutOrStdout(), "No %s stored in %s\n", envKeyName(), path)
				return nil
			}
			delete(vars, envKeyName())
			if err := godotenv.Write(vars, path); err != nil {
				return fmt.Errorf("write %s: %w", path, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s from %s\n", envKeyName(), path)
			return nil
		},
	}
}

func buildAuthStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report whether an API key is configured",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace, err := currentWorkspace()
			if err != nil {
				return err
			}
			cfg, err := loadConfig(workspace)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if cfg.APIKey == "" {
				fmt.Fprintln(out, "No API key configured. Run 'crabclaw auth login'.")
				return nil
			}
			fmt.Fprintf(out, "API key configured (%s). Model: %s\n", maskKey(cfg.APIKey), cfg.Model)
			return nil
		},
	}
}

func envKeyName() string {
	if p := strings.TrimSpace(profileFlag); p != "" {
		return strings.ToUpper(p) + "_API_KEY"
	}
	return "API_KEY"
}

func readEnvFile() (string, map[string]string, error) {
	workspace, err := currentWorkspace()
	if err != nil {
		return "", nil, err
	}
	path := filepath.Join(workspace, envFileName)
	vars := map[string]string{}
	if _, err := os.Stat(path); err == nil {
		vars, err = godotenv.Read(path)
		if err != nil {
			return "", nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	return path, vars, nil
}

func maskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}
