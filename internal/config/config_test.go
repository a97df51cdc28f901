package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	cfg.ContainerPatterns = []string{"*"}
	if err := Validate(&cfg); err != nil {
		t.Fatalf("defaults should validate once container_patterns is set: %v", err)
	}
}

func TestValidate_MonitorIntervalMustBeLessThanReportInterval(t *testing.T) {
	cfg := Defaults()
	cfg.ContainerPatterns = []string{"*"}
	cfg.MonitorInterval = time.Hour
	cfg.ReportInterval = time.Minute
	if err := Validate(&cfg); err == nil {
		t.Fatal("expected error when monitor_interval >= report_interval")
	}
}

func TestValidate_WebhookRequiresSecretAndHTTPS(t *testing.T) {
	cfg := Defaults()
	cfg.ContainerPatterns = []string{"*"}
	cfg.AlertWebhook = "http://example.com/hook"
	cfg.AlertSecretKey = "short"
	err := Validate(&cfg)
	if err == nil {
		t.Fatal("expected error for non-HTTPS webhook with short secret")
	}

	cfg.AlertWebhook = "https://example.com/hook"
	cfg.AlertSecretKey = string(make([]byte, 32))
	if err := Validate(&cfg); err != nil {
		t.Fatalf("unexpected error with valid HTTPS webhook and long secret: %v", err)
	}

	cfg.AlertWebhook = "http://localhost:8080/hook"
	if err := Validate(&cfg); err != nil {
		t.Fatalf("localhost webhook should bypass the HTTPS requirement: %v", err)
	}
}

func TestLoad_ParsesEnvOverridesAndValidates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := []byte("container_patterns:\n  - \"web-*\"\nmonitor_interval: 10s\nreport_interval: 1h\n")
	if err := os.WriteFile(path, yaml, 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	t.Setenv("MONITOR_CPU_THRESHOLD", "55.5")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.CPUThreshold != 55.5 {
		t.Fatalf("expected env override to apply, got %f", cfg.CPUThreshold)
	}
	if cfg.MonitorInterval != 10*time.Second {
		t.Fatalf("expected monitor_interval from file, got %s", cfg.MonitorInterval)
	}
}

func TestLoad_RejectsInvalidEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("container_patterns:\n  - \"*\"\n"), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	t.Setenv("MONITOR_CPU_THRESHOLD", "not-a-number")

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for non-numeric MONITOR_CPU_THRESHOLD")
	}
}
