package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("SPACEWX_CONFIG", "")
	t.Setenv("TICK_SECONDS", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Pipeline.Cooldown() != 15*time.Minute {
		t.Errorf("Cooldown() = %v, want 15m", cfg.Pipeline.Cooldown())
	}
	if cfg.Redis.Addr != "" {
		t.Errorf("Redis.Addr = %q, want empty", cfg.Redis.Addr)
	}
	if cfg.Push.ChannelID != "space-weather-alerts" {
		t.Errorf("Push.ChannelID = %q", cfg.Push.ChannelID)
	}
}

func TestLoadConfigFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spacewx.toml")
	content := `
http_addr = ":9000"

[redis]
addr = "cache:6379"

[pipeline]
tick_seconds = 120
cooldown_minutes = 30
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("SPACEWX_CONFIG", path)
	t.Setenv("TICK_SECONDS", "45")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.HTTPAddr != ":9000" {
		t.Errorf("HTTPAddr = %q, want :9000", cfg.HTTPAddr)
	}
	if cfg.Redis.Addr != "cache:6379" {
		t.Errorf("Redis.Addr = %q", cfg.Redis.Addr)
	}
	if cfg.Pipeline.TickInterval() != 45*time.Second {
		t.Errorf("TickInterval() = %v, want env override 45s", cfg.Pipeline.TickInterval())
	}
	if cfg.Pipeline.CooldownMinutes != 30 {
		t.Errorf("CooldownMinutes = %d, want 30", cfg.Pipeline.CooldownMinutes)
	}
	// untouched sections keep their defaults
	if cfg.Pipeline.StaleAfterSeconds != 900 {
		t.Errorf("StaleAfterSeconds = %d, want 900", cfg.Pipeline.StaleAfterSeconds)
	}
}

func TestLoadConfigBadFile(t *testing.T) {
	t.Setenv("SPACEWX_CONFIG", filepath.Join(t.TempDir(), "missing.toml"))
	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error for missing config file")
	}
}
