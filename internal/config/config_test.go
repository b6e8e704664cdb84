package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/web2labs/studio-gateway/internal/spend"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if cfg.Port != 8317 {
		t.Errorf("port = %d", cfg.Port)
	}
	if cfg.APIEndpoint != "https://web2labs.com" {
		t.Errorf("endpoint = %s", cfg.APIEndpoint)
	}
	if cfg.DefaultPreset != "youtube" || cfg.MaxRetries != 3 {
		t.Errorf("defaults not applied: %+v", cfg)
	}
	if cfg.Spend.Mode != spend.ModeAuto {
		t.Errorf("spend mode = %s", cfg.Spend.Mode)
	}
	if cfg.Spend.AutoMaxAPIPerMonth != 80 {
		t.Errorf("spend knob default = %v", cfg.Spend.AutoMaxAPIPerMonth)
	}
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
port: 9000
api-endpoint: https://staging.web2labs.com/
api-key: sk_file
default-preset: podcast
gateway-keys:
  - gk_one
spend:
  mode: smart
  smart-api-confirm-threshold: 5
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != 9000 || cfg.APIKey != "sk_file" || cfg.DefaultPreset != "podcast" {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.APIEndpoint != "https://staging.web2labs.com" {
		t.Errorf("endpoint not trimmed: %s", cfg.APIEndpoint)
	}
	if len(cfg.GatewayKeys) != 1 || cfg.GatewayKeys[0] != "gk_one" {
		t.Errorf("gateway keys = %v", cfg.GatewayKeys)
	}
	if cfg.Spend.Mode != spend.ModeSmart || cfg.Spend.SmartAPIConfirmThreshold != 5 {
		t.Errorf("spend section = %+v", cfg.Spend)
	}
	// Untouched knobs backfill from defaults.
	if cfg.Spend.AutoMaxCreatorPerMonth != 400 {
		t.Errorf("unset knob = %v", cfg.Spend.AutoMaxCreatorPerMonth)
	}
}

func TestLoadMalformedFile(t *testing.T) {
	path := writeConfig(t, "port: [not a number")
	if _, err := Load(path); err == nil {
		t.Fatal("malformed YAML accepted")
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "api-key: sk_file\napi-endpoint: https://file.example\n")
	t.Setenv("WEB2LABS_API_KEY", "sk_env")
	t.Setenv("WEB2LABS_API_ENDPOINT", "https://env.example")
	t.Setenv("WEB2LABS_SPEND_POLICY", "explicit")
	t.Setenv("WEB2LABS_AUTO_SPEND_MAX_API_PER_ACTION", "9999")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.APIKey != "sk_env" || cfg.APIEndpoint != "https://env.example" {
		t.Errorf("env overrides lost: %+v", cfg)
	}
	if cfg.Spend.Mode != spend.ModeExplicit {
		t.Errorf("spend mode = %s", cfg.Spend.Mode)
	}
	// Env knobs clamp to their documented ranges.
	if cfg.Spend.AutoMaxAPIPerAction != 1000 {
		t.Errorf("knob not clamped: %v", cfg.Spend.AutoMaxAPIPerAction)
	}
}

func TestTestModeSwapsEndpoint(t *testing.T) {
	t.Setenv("WEB2LABS_TEST_MODE", "true")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.APIEndpoint != "https://test.web2labs.com" {
		t.Errorf("endpoint = %s", cfg.APIEndpoint)
	}

	// An explicit endpoint wins over test mode.
	t.Setenv("WEB2LABS_API_ENDPOINT", "https://custom.example")
	cfg, err = Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.APIEndpoint != "https://custom.example" {
		t.Errorf("explicit endpoint lost: %s", cfg.APIEndpoint)
	}
}
