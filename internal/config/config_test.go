package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.APIBaseURL != DefaultAPIBaseURL {
		t.Fatalf("unexpected base url: %s", cfg.APIBaseURL)
	}
	if cfg.PollInterval != 5*time.Second || cfg.ConfirmDelay != 3*time.Second {
		t.Fatalf("unexpected intervals: poll=%s confirm=%s", cfg.PollInterval, cfg.ConfirmDelay)
	}
	if cfg.SessionBackend != "file" || cfg.LedgerDriver != "none" {
		t.Fatalf("unexpected backends: %s %s", cfg.SessionBackend, cfg.LedgerDriver)
	}
}

func TestLoadYAMLThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := strings.Join([]string{
		"apiBaseURL: https://market.example.com/api/",
		"pollInterval: 2s",
		"sessionBackend: memory",
		"ledgerDriver: sqlite",
		"ledgerDSN: " + filepath.Join(dir, "ledger.db"),
	}, "\n")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("GALLERIO_POLL_INTERVAL", "750ms")
	t.Setenv("GALLERIO_LOG_LEVEL", "debug")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.APIBaseURL != "https://market.example.com/api" {
		t.Fatalf("expected trailing slash trimmed, got %s", cfg.APIBaseURL)
	}
	if cfg.PollInterval != 750*time.Millisecond {
		t.Fatalf("expected env override, got %s", cfg.PollInterval)
	}
	if cfg.LogLevel != "debug" || cfg.SessionBackend != "memory" || cfg.LedgerDriver != "sqlite" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]map[string]string{
		"redis without addr":   {"GALLERIO_SESSION_BACKEND": "redis"},
		"unknown ledger":       {"GALLERIO_LEDGER_DRIVER": "mongo"},
		"ledger without dsn":   {"GALLERIO_LEDGER_DRIVER": "postgres"},
		"relative base url":    {"GALLERIO_API_BASE_URL": "/api"},
		"bad duration":         {"GALLERIO_POLL_INTERVAL": "soon"},
		"half webhook auth":    {"GALLERIO_WEBHOOK_USERNAME": "hook"},
		"unknown session type": {"GALLERIO_SESSION_BACKEND": "cookie"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			for k, v := range env {
				t.Setenv(k, v)
			}
			if _, err := Load(""); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}
