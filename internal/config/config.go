// Package config loads, validates, and holds the MonitorConfig described in
// spec.md §3. Reloads (SIGHUP in cmd/sentrymon) are atomic pointer swaps —
// in-flight analysis jobs keep whatever *Config they were handed at
// submission time.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root MonitorConfig. Field names mirror spec.md §3 exactly;
// yaml tags give the on-disk key names.
type Config struct {
	MonitorInterval time.Duration `yaml:"monitor_interval"`
	ReportInterval  time.Duration `yaml:"report_interval"`
	RetentionDays   int           `yaml:"retention_days"`

	ContainerPatterns []string `yaml:"container_patterns"`

	NetworkMonitoring   bool `yaml:"network_monitoring"`
	FileMonitoring      bool `yaml:"file_monitoring"`
	ProcessMonitoring   bool `yaml:"process_monitoring"`
	BehavioralAnalysis  bool `yaml:"behavioral_analysis"`

	CPUThreshold         float64 `yaml:"cpu_threshold"`
	MemoryThreshold      float64 `yaml:"memory_threshold"`
	NetworkThresholdMbps float64 `yaml:"network_threshold_mbps"`
	FileChangeThreshold  int     `yaml:"file_change_threshold"`

	AllowedPorts          []int    `yaml:"allowed_ports"`
	BlockedProcesses      []string `yaml:"blocked_processes"`
	MonitoredDirectories  []string `yaml:"monitored_directories"`
	DangerousCapabilities []string `yaml:"dangerous_capabilities"`
	SensitiveDirectories  []string `yaml:"sensitive_directories"`

	AlertWebhook          string        `yaml:"alert_webhook"`
	AlertSecretKey        string        `yaml:"alert_secret_key"`
	AlertTimeout          time.Duration `yaml:"alert_timeout"`
	MaxTimestampSkew      time.Duration `yaml:"max_timestamp_skew"`
	MaxConcurrentContainers int         `yaml:"max_concurrent_containers"`
	AlertRateLimit        int           `yaml:"alert_rate_limit"`

	Observability ObservabilityConfig `yaml:"observability"`
	Control       ControlConfig       `yaml:"control"`
}

// ObservabilityConfig is ambient configuration the core consumes but that
// spec.md §1 treats as an external collaborator's concern (metrics
// registration plumbing, log formatting). cmd/sentrymon wires the
// concrete implementations; the core only sees the Registry/logger
// interfaces these values parameterize.
type ObservabilityConfig struct {
	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
}

// ControlConfig configures the on-demand report socket (internal/control).
type ControlConfig struct {
	Enabled    bool   `yaml:"enabled"`
	SocketPath string `yaml:"socket_path"`
}

// Defaults returns a Config with every field populated per spec.md's
// recognized defaults.
func Defaults() Config {
	return Config{
		MonitorInterval: 30 * time.Second,
		ReportInterval:  1 * time.Hour,
		RetentionDays:   1,

		ContainerPatterns: nil,

		NetworkMonitoring:  true,
		FileMonitoring:     true,
		ProcessMonitoring:  true,
		BehavioralAnalysis: true,

		CPUThreshold:         80.0,
		MemoryThreshold:      80.0,
		NetworkThresholdMbps: 100.0,
		FileChangeThreshold:  10,

		AllowedPorts:          []int{80, 443},
		BlockedProcesses:      []string{"nc", "netcat", "nmap", "masscan"},
		MonitoredDirectories:  []string{"/etc", "/var/lib/docker"},
		DangerousCapabilities: []string{"SYS_ADMIN", "SYS_MODULE", "SYS_TIME", "SYS_BOOT", "SYS_PTRACE", "DAC_OVERRIDE", "NET_ADMIN", "NET_RAW"},
		SensitiveDirectories:  []string{"/proc", "/sys", "/etc", "/boot", "/dev", "/lib/modules", "/usr/lib/modules", "/var/lib/docker"},

		AlertWebhook:            "",
		AlertSecretKey:          "",
		AlertTimeout:            30 * time.Second,
		MaxTimestampSkew:        300 * time.Second,
		MaxConcurrentContainers: 10,
		AlertRateLimit:          50,

		Observability: ObservabilityConfig{
			MetricsAddr: "127.0.0.1:9091",
			LogLevel:    "info",
			LogFormat:   "json",
		},
		Control: ControlConfig{
			Enabled:    true,
			SocketPath: "/run/sentrymon/control.sock",
		},
	}
}

// envOverrides maps environment variable names to a setter applied after
// the YAML file is parsed but before validation, per spec.md §6.
var envOverrides = map[string]func(*Config, string) error{
	"MONITOR_INTERVAL": func(c *Config, v string) error {
		d, err := parseSeconds(v)
		if err != nil {
			return err
		}
		c.MonitorInterval = d
		return nil
	},
	"MONITOR_REPORT_INTERVAL": func(c *Config, v string) error {
		d, err := parseSeconds(v)
		if err != nil {
			return err
		}
		c.ReportInterval = d
		return nil
	},
	"MONITOR_WEBHOOK_URL": func(c *Config, v string) error {
		c.AlertWebhook = v
		return nil
	},
	"MONITOR_ALERT_SECRET_KEY": func(c *Config, v string) error {
		c.AlertSecretKey = v
		return nil
	},
	"MONITOR_CPU_THRESHOLD": func(c *Config, v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		c.CPUThreshold = f
		return nil
	},
	"MONITOR_MEMORY_THRESHOLD": func(c *Config, v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		c.MemoryThreshold = f
		return nil
	},
}

func parseSeconds(v string) (time.Duration, error) {
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: not an integer number of seconds: %q", v)
	}
	return time.Duration(n) * time.Second, nil
}

// applyEnv applies the fixed environment-variable mapping on top of cfg.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	var errs []string
	for name, setter := range envOverrides {
		val, ok := lookup(name)
		if !ok || val == "" {
			continue
		}
		if err := setter(cfg, val); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", name, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: environment overrides: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Load reads, parses, applies environment overrides to, and validates a
// config file. The MonitorConfig this returns is what the rest of the
// system treats as already-validated input (spec.md §6: "the loader is an
// external collaborator; the core consumes an already-validated
// MonitorConfig" — Load is that collaborator's entrypoint).
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	// Unknown keys are ignored with a warning by design (spec.md §6);
	// yaml.v3's default KnownFields(false) behavior already does this, so
	// no extra decoding step is needed here — the warning itself is a
	// logging concern left to the caller, which has the logger.
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse %q: %w", path, err)
	}

	if err := applyEnv(&cfg, lookupEnv); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config.Load: validation failed: %w", err)
	}

	return &cfg, nil
}

func lookupEnv(name string) (string, bool) {
	return os.LookupEnv(name)
}

// Validate checks every field enumerated in spec.md §3's MonitorConfig,
// returning an aggregated error listing all violations.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.MonitorInterval < time.Second {
		errs = append(errs, fmt.Sprintf("monitor_interval must be >= 1s, got %s", cfg.MonitorInterval))
	}
	if cfg.MonitorInterval >= cfg.ReportInterval {
		errs = append(errs, fmt.Sprintf("monitor_interval (%s) must be < report_interval (%s)", cfg.MonitorInterval, cfg.ReportInterval))
	}
	if cfg.RetentionDays < 1 {
		errs = append(errs, fmt.Sprintf("retention_days must be >= 1, got %d", cfg.RetentionDays))
	}
	if len(cfg.ContainerPatterns) == 0 {
		errs = append(errs, "container_patterns must not be empty")
	}
	if cfg.CPUThreshold < 0 || cfg.CPUThreshold > 100 {
		errs = append(errs, fmt.Sprintf("cpu_threshold must be in [0, 100], got %f", cfg.CPUThreshold))
	}
	if cfg.MemoryThreshold < 0 || cfg.MemoryThreshold > 100 {
		errs = append(errs, fmt.Sprintf("memory_threshold must be in [0, 100], got %f", cfg.MemoryThreshold))
	}
	if cfg.NetworkThresholdMbps < 0 {
		errs = append(errs, fmt.Sprintf("network_threshold_mbps must be >= 0, got %f", cfg.NetworkThresholdMbps))
	}
	if cfg.AlertWebhook != "" {
		if err := validateWebhookURL(cfg.AlertWebhook); err != nil {
			errs = append(errs, err.Error())
		}
		if len(cfg.AlertSecretKey) < 32 {
			errs = append(errs, fmt.Sprintf("alert_secret_key must be >= 32 bytes, got %d", len(cfg.AlertSecretKey)))
		}
	}
	if cfg.AlertTimeout <= 0 {
		errs = append(errs, "alert_timeout must be > 0")
	}
	if cfg.MaxTimestampSkew <= 0 {
		errs = append(errs, "max_timestamp_skew must be > 0")
	}
	if cfg.MaxConcurrentContainers < 1 {
		errs = append(errs, fmt.Sprintf("max_concurrent_containers must be >= 1, got %d", cfg.MaxConcurrentContainers))
	}
	if cfg.AlertRateLimit < 1 {
		errs = append(errs, fmt.Sprintf("alert_rate_limit must be >= 1, got %d", cfg.AlertRateLimit))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateWebhookURL(raw string) error {
	lower := strings.ToLower(raw)
	if strings.Contains(lower, "localhost") || strings.Contains(lower, "127.0.0.1") {
		return nil
	}
	if !strings.HasPrefix(lower, "https://") {
		return fmt.Errorf("alert_webhook must be HTTPS unless host is localhost, got %q", raw)
	}
	return nil
}
