package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func clearLLMEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"LLM_MODEL", "OPENAI_MODEL", "GOOGLE_API_KEY", "GEMINI_API_KEY",
		"OPENAI_API_KEY", "ANTHROPIC_API_KEY", "AGENT_MAX_RPM",
		"MEMORY_ENABLED", "SAFE_MODE", "SURVIVAL_MODE",
	} {
		t.Setenv(k, "")
	}
}

func TestDefaults(t *testing.T) {
	cfg := defaults()

	if cfg.LLM.GeminiModel != "gemini-1.5-flash" {
		t.Errorf("expected gemini-1.5-flash, got %s", cfg.LLM.GeminiModel)
	}
	if cfg.LLM.OpenAIModel != "gpt-4o-mini" {
		t.Errorf("expected gpt-4o-mini, got %s", cfg.LLM.OpenAIModel)
	}
	if !cfg.Modes.MemoryEnabled {
		t.Error("expected memory enabled by default")
	}
	if cfg.Modes.SafeMode || cfg.Modes.SurvivalMode {
		t.Error("expected safe and survival modes off by default")
	}
	if cfg.Agents.MaxRPM != 0 {
		t.Errorf("expected no rate limit by default, got %d", cfg.Agents.MaxRPM)
	}
	if cfg.Engine.ItemTimeout != 5*time.Minute {
		t.Errorf("expected item_timeout 5m, got %v", cfg.Engine.ItemTimeout)
	}
	if cfg.NATS.Port != 4222 {
		t.Errorf("expected nats port 4222, got %d", cfg.NATS.Port)
	}
	if cfg.Web.Port != 8080 {
		t.Errorf("expected web port 8080, got %d", cfg.Web.Port)
	}
	if cfg.Store.Path != "data/warroom.db" {
		t.Errorf("expected store path data/warroom.db, got %s", cfg.Store.Path)
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	clearLLMEnv(t)
	// Point config to a non-existent file so we use defaults
	t.Setenv("WARROOM_CONFIG", "/nonexistent/config.yaml")
	t.Setenv("WARROOM_TELEGRAM_TOKEN", "test-token-123")
	t.Setenv("OPENAI_API_KEY", "sk-test-key")
	t.Setenv("OPENAI_MODEL", "gpt-4.1")
	t.Setenv("AGENT_MAX_RPM", "12")
	t.Setenv("MEMORY_ENABLED", "no")
	t.Setenv("SAFE_MODE", "Yes")
	t.Setenv("WARROOM_WEB_PASSWORD", "secret")
	t.Setenv("WARROOM_WEB_PORT", "9090")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Telegram.Token != "test-token-123" {
		t.Errorf("expected telegram token test-token-123, got %s", cfg.Telegram.Token)
	}
	if cfg.LLM.OpenAIAPIKey != "sk-test-key" {
		t.Errorf("expected openai key sk-test-key, got %s", cfg.LLM.OpenAIAPIKey)
	}
	if cfg.LLM.OpenAIModel != "gpt-4.1" {
		t.Errorf("expected gpt-4.1, got %s", cfg.LLM.OpenAIModel)
	}
	if cfg.Agents.MaxRPM != 12 {
		t.Errorf("expected max rpm 12, got %d", cfg.Agents.MaxRPM)
	}
	if cfg.Modes.MemoryEnabled {
		t.Error("expected memory disabled")
	}
	if !cfg.Modes.SafeMode {
		t.Error("expected safe mode on")
	}
	if cfg.Web.Auth != "secret" {
		t.Errorf("expected web auth secret, got %s", cfg.Web.Auth)
	}
	if cfg.Web.Port != 9090 {
		t.Errorf("expected web port 9090, got %d", cfg.Web.Port)
	}
}

func TestLoadInvalidRPMIgnored(t *testing.T) {
	clearLLMEnv(t)
	t.Setenv("WARROOM_CONFIG", "/nonexistent/config.yaml")
	t.Setenv("AGENT_MAX_RPM", "lots")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Agents.MaxRPM != 0 {
		t.Errorf("expected max rpm 0, got %d", cfg.Agents.MaxRPM)
	}
}

func TestLoadFromYAML(t *testing.T) {
	clearLLMEnv(t)
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	t.Setenv("TEST_GEMINI_KEY", "from-env")
	yaml := `
llm:
  model: "gemini/gemini-2.0-flash"
  google_api_key: "${TEST_GEMINI_KEY}"
telegram:
  token: "yaml-token"
  allow_from: [123, 456]
agents:
  max_rpm: 30
  overrides:
    sre_triage:
      rate_limit: 5
      capabilities: [metrics]
capabilities:
  disabled: [siem]
modes:
  survival_mode: true
web:
  port: 3000
  enabled: false
`
	if err := os.WriteFile(cfgPath, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("WARROOM_CONFIG", cfgPath)
	// Clear any env overrides
	t.Setenv("WARROOM_TELEGRAM_TOKEN", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.LLM.Model != "gemini/gemini-2.0-flash" {
		t.Errorf("expected yaml model, got %s", cfg.LLM.Model)
	}
	if cfg.LLM.GoogleAPIKey != "from-env" {
		t.Errorf("expected expanded key, got %s", cfg.LLM.GoogleAPIKey)
	}
	if cfg.Telegram.Token != "yaml-token" {
		t.Errorf("expected yaml-token, got %s", cfg.Telegram.Token)
	}
	if len(cfg.Telegram.AllowFrom) != 2 {
		t.Errorf("expected 2 allow_from entries, got %d", len(cfg.Telegram.AllowFrom))
	}
	if cfg.Agents.MaxRPM != 30 {
		t.Errorf("expected max rpm 30, got %d", cfg.Agents.MaxRPM)
	}
	ov, ok := cfg.Agents.Overrides["sre_triage"]
	if !ok || ov.RateLimit != 5 || len(ov.Capabilities) != 1 {
		t.Errorf("unexpected override: %+v", ov)
	}
	if len(cfg.Capabilities.Disabled) != 1 || cfg.Capabilities.Disabled[0] != "siem" {
		t.Errorf("expected siem disabled, got %v", cfg.Capabilities.Disabled)
	}
	if !cfg.Modes.SurvivalMode {
		t.Error("expected survival mode from yaml")
	}
	if !cfg.Modes.MemoryEnabled {
		t.Error("expected memory default to survive partial modes block")
	}
	if cfg.Web.Port != 3000 {
		t.Errorf("expected web port 3000, got %d", cfg.Web.Port)
	}
	if cfg.Web.Enabled {
		t.Error("expected web disabled")
	}
}

func TestTruthy(t *testing.T) {
	for _, v := range []string{"1", "true", "TRUE", "yes", "Y", " y "} {
		if !Truthy(v) {
			t.Errorf("expected %q truthy", v)
		}
	}
	for _, v := range []string{"", "0", "false", "no", "on", "enabled"} {
		if Truthy(v) {
			t.Errorf("expected %q falsy", v)
		}
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "# comment\n\nWARROOM_TEST_A=alpha\nWARROOM_TEST_B=\"quoted value\"\nnot a pair\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("WARROOM_TEST_A", "")
	t.Setenv("WARROOM_TEST_B", "")

	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := os.Getenv("WARROOM_TEST_A"); got != "alpha" {
		t.Errorf("expected alpha, got %q", got)
	}
	if got := os.Getenv("WARROOM_TEST_B"); got != "quoted value" {
		t.Errorf("expected quoted value, got %q", got)
	}
}

func TestLoadDotEnvMissing(t *testing.T) {
	if err := LoadDotEnv(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Errorf("expected nil for missing file, got %v", err)
	}
}
