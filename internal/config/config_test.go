package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeEnvFile(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, envFileName), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir(), Overrides{})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Model != DefaultModel {
		t.Errorf("model = %q", cfg.Model)
	}
	if cfg.APIBase != DefaultAPIBase {
		t.Errorf("api base = %q", cfg.APIBase)
	}
	if cfg.MaxContextMessages != DefaultMaxContextMessages {
		t.Errorf("max context = %d", cfg.MaxContextMessages)
	}
}

func TestOverrideWinsOverEnv(t *testing.T) {
	t.Setenv("MODEL", "from-env")
	cfg, err := Load(t.TempDir(), Overrides{Model: "from-cli"})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Model != "from-cli" {
		t.Errorf("model = %q", cfg.Model)
	}
}

func TestProfileEnvWinsOverPlainEnv(t *testing.T) {
	t.Setenv("API_KEY", "plain")
	t.Setenv("WORK_API_KEY", "profiled")
	cfg, err := Load(t.TempDir(), Overrides{Profile: "work"})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.APIKey != "profiled" {
		t.Errorf("api key = %q", cfg.APIKey)
	}
}

func TestEnvWinsOverDotenv(t *testing.T) {
	dir := t.TempDir()
	writeEnvFile(t, dir, "MODEL=from-file\n")
	t.Setenv("MODEL", "from-env")
	cfg, err := Load(dir, Overrides{})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Model != "from-env" {
		t.Errorf("model = %q", cfg.Model)
	}
}

func TestDotenvProfileWinsOverDotenvPlain(t *testing.T) {
	dir := t.TempDir()
	writeEnvFile(t, dir, "API_KEY=plain\nWORK_API_KEY=profiled\n")
	cfg, err := Load(dir, Overrides{Profile: "work"})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.APIKey != "profiled" {
		t.Errorf("api key = %q", cfg.APIKey)
	}
}

func TestBlankValuesFallThrough(t *testing.T) {
	t.Setenv("MODEL", "   ")
	cfg, err := Load(t.TempDir(), Overrides{})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Model != DefaultModel {
		t.Errorf("blank env should fall through, model = %q", cfg.Model)
	}
}

func TestAnthropicDialectDetection(t *testing.T) {
	cfg, err := Load(t.TempDir(), Overrides{Model: "anthropic:claude-sonnet-4-5"})
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.UsesAnthropicDialect() {
		t.Error("expected anthropic dialect")
	}
	if cfg.ModelName() != "claude-sonnet-4-5" {
		t.Errorf("model name = %q", cfg.ModelName())
	}
	if cfg.APIBase != DefaultAnthropicAPIBase {
		t.Errorf("api base = %q", cfg.APIBase)
	}
}
